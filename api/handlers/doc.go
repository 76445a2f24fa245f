// Copyright (c) HiveTrain Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 hivetrain HTTP API 的请求处理器实现。

# 概述

handlers 包实现了训练服务所有 HTTP 端点的请求处理逻辑，
包括调度器快照、训练运行控制、历史运行查询、健康检查以及统一的响应/错误处理。
所有 Handler 均遵循标准 net/http 接口，通过 Swagger 注解生成 API 文档。

# 核心类型

  - TrainingHandler  - 快照（JSON 与 WebSocket 推送）、运行状态、epoch 历史、超参数与停止
  - RunsHandler      - 数据库中的历史运行、epoch 记录与最新检查点
  - HealthHandler    - 服务健康检查（/health, /healthz, /ready）
  - Response         - 统一 JSON 响应结构（success + data + error + timestamp）
  - ErrorInfo        - 结构化错误信息，含 code、message、retryable 与 node_path
  - ResponseWriter   - 包装 http.ResponseWriter 以捕获状态码
  - HealthCheck      - 可插拔健康检查接口（调度器、数据库、Redis 等）

# 主要能力

  - 统一响应格式：WriteSuccess / WriteError / WriteJSON 辅助函数
  - 请求验证：DecodeJSONBody（1 MB 限制 + 严格模式）、ValidateContentType
  - ErrorCode → HTTP 状态码自动映射（4xx/5xx），调度错误经 WriteDomainError 转换
  - 快照推送：HandleSnapshotWS 基于 coder/websocket 按固定间隔推送
  - 可扩展健康检查：RegisterCheck 注册 SchedulerCheck、PingCheck 等实现
*/
package handlers
