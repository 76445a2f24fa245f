// Copyright (c) HiveTrain Authors.
// Licensed under the MIT License.

/*
包 database 提供基于 GORM 的数据库打开与连接池管理，支持健康检查、
统计上报与事务重试。

# 核心类型

  - PoolManager：连接池管理器，持有 GORM DB 与底层 sql.DB，
    提供 DB、Ping、Stats、Close 等生命周期方法。
  - PoolConfig：连接池配置，可由 config.DatabaseConfig 派生。
  - StatsRecorder：健康检查后接收连接数，metrics.Collector 实现。

# 主要能力

  - Open / Dialector：按驱动名选择 postgres、mysql 或纯 Go sqlite。
  - 健康检查：后台定时 PingContext 探活，Close 时停止。
  - 事务管理：WithTransactionRetry 按 pgconn / MySQL 错误码识别死锁、序列化冲突、
    锁等待超时，连同 sqlite 的 database is locked 一起做指数退避重试。
*/
package database
