// Copyright (c) HiveTrain Authors.
// Licensed under the MIT License.

/*
包 server 提供 HTTP/HTTPS 服务器生命周期管理，支持非阻塞启动
与基于 context 的优雅关闭。

# 核心类型

  - Manager：持有 http.Server、net.Listener 与异步错误通道，
    提供 Start/Run/Shutdown 生命周期方法。
  - Config：监听地址、读写超时、空闲超时、最大请求头大小、
    优雅关闭超时，以及可选的证书文件。

# 主要能力

  - 非阻塞启动：Start 在后台 goroutine 中运行服务。
  - errgroup 友好：Run 阻塞到 ctx 结束或服务异常，再优雅关闭。
  - TLS：同时配置证书与私钥时经 tlsutil.ServerTLSConfig 以 TLS 1.2+ 监听。
  - 错误传播：Errors() 返回异步错误通道。
*/
package server
