// Copyright (c) HiveTrain Authors.
// Licensed under the MIT License.

/*
包 migration 基于 golang-migrate 管理训练记录的数据库 Schema，
支持 PostgreSQL、MySQL 与 SQLite。

# 概述

各方言的 SQL 以 embed.FS 内嵌（migrations/<dialect>/NNNNNN_name.up|down.sql），
当前包含 training_runs、epoch_records 与 checkpoints 三张表。
SQLite 使用 glebarez 的纯 Go 驱动，与 gorm 侧共用 "sqlite" 注册名。

# 核心类型

  - Migrator / DefaultMigrator：Up、Down、Force、Version、Status、Info。
  - CLI：为 hivetrain migrate 子命令提供格式化输出。
  - NewMigratorFromDatabaseConfig：从 config.DatabaseConfig 构造。
*/
package migration
