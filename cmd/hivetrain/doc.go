// Copyright (c) HiveTrain Authors.
// Licensed under the MIT License.

/*
Package main 提供 hivetrain 训练服务的程序入口。

# 概述

cmd/hivetrain 在一个进程里运行层级调度器与训练循环，并通过 HTTP
暴露快照、运行状态、检查点与运行期配置。子命令包括 train（别名 serve）、
migrate、health 与 version。

# 核心类型

  - Server      - 组装调度器、训练循环、存储、Redis 发布与双端口 HTTP
  - Middleware  - func(http.Handler) http.Handler
  - AuthConfig  - 管理接口的 API Key / JWT 认证参数

# 主要能力

  - 中间件链：Recovery、RequestID、OTelTracing、SecurityHeaders、
    RequestLogger、MetricsMiddleware、CORS、RateLimiter
  - 管理接口（超参数、停止、/v1/config）需要 X-API-Key 或 HS256 Bearer Token
  - 热更新：学习率、梯度裁剪、训练策略、日志级别与发布速率即时生效
  - --exit 模式：训练结束后关闭 HTTP 并退出
*/
package main
