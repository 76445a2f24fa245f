// Package api 定义 hivetrain HTTP 接口的请求与响应类型。
//
// # API 概览
//
//   - GET  /health, /healthz, /ready, /version  健康检查
//   - GET  /metrics                               Prometheus 指标
//   - GET  /v1/snapshot                           调度器快照
//   - GET  /v1/snapshot/ws                        快照 WebSocket 推送
//   - GET  /v1/training                           当前运行状态
//   - GET  /v1/history                            epoch 历史
//   - POST /v1/training/hyperparams               修改学习率与裁剪阈值
//   - POST /v1/training/stop                      停止训练
//   - GET  /v1/runs, /v1/runs/{id}                数据库中的历史运行
//   - GET  /v1/runs/{id}/history                  某次运行的 epoch 记录
//   - GET  /v1/runs/{id}/checkpoint               最新检查点（?weights=true 附带权重）
//   - /v1/config/*                                配置查询、热重载与变更记录
//
// # 认证
//
// 管理接口（stop、hyperparams、config）需要 X-API-Key 请求头，
// 或配置了 JWT 密钥时的 Authorization: Bearer <token>。
//
// 所有响应都使用 Response 信封。
package api
