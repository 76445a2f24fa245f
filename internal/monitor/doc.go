// Copyright (c) HiveTrain Authors.
// Licensed under the MIT License.

/*
Package monitor 把训练快照发布到 Redis，供外部看板与 CLI 订阅。

# 核心类型

  - Client：封装 go-redis 客户端，负责连接校验、可选 TLS、
    后台健康检查与幂等关闭。
  - RedisPublisher：实现 trainer.Publisher。每次发布在一个事务管道里
    SET 最新快照键并 PUBLISH 到频道；x/time/rate 令牌桶限制发布频率，
    失败与终态更新不受限速影响。

# 读取

Latest 读取最新快照键；Subscribe 返回后续更新的通道。
*/
package monitor
