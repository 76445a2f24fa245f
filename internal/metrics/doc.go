// Copyright (c) HiveTrain Authors.
// Licensed under the MIT License.

/*
包 metrics 提供基于 Prometheus 的指标采集，覆盖 HTTP、调度器、
检查点/快照发布与数据库四个维度。

# 核心类型

  - Collector：实现 scheduler.Recorder，通过 promauto.With 注册到
    调用方给定的 Registry（nil 时使用默认 Registry）。

# 主要能力

  - 调度器指标：epoch 尝试数（按结果码）、批次数、epoch 耗时、
    loss / 梯度范数 / 学习率 Gauge、裁剪次数、入队重试（按层级）、
    中止原因、各生命周期状态的节点数。
  - HTTP 指标：请求总数、耗时、响应大小，状态码归类为 2xx/3xx/4xx/5xx。
  - 检查点与快照发布：按 ok / error 计数。
  - 数据库指标：连接数 Gauge、查询耗时 Histogram。
*/
package metrics
