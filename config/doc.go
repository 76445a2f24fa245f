// Copyright (c) HiveTrain Authors.
// Licensed under the MIT License.

// Package config 提供 hivetrain 的配置管理功能。
//
// 包含配置加载（默认值 → YAML → HIVETRAIN_ 前缀环境变量）、
// 超参数热重载、配置 API 和变更历史管理。
// 结构性字段（worker 数、扇出、层数、队列容量）变更需要重启调度器。
package config
