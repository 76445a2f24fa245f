// Copyright (c) HiveTrain Authors.
// Licensed under the MIT License.

/*
Package types 提供 hivetrain 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 scheduler、trainer、
checkpoint 与 cmd 等上层模块提供统一的错误码。context 键见 internal/ctxkeys。

# 核心类型

  - Error / ErrorCode - 结构化错误体系，含 Retryable 与 NodePath 标记
  - Coded             - 领域错误到 ErrorCode 的映射接口

# 主要能力

  - 错误码提取：GetErrorCode 沿 errors.As 链查找 Coded 实现
*/
package types
