/*
包 server 提供 HTTP 服务器生命周期管理，支持非阻塞启动与优雅关闭。

# 概述

Manager 封装 net/http.Server，mediaflow 用两个实例分别承载 API
与 /metrics。API 服务默认不设置写超时，资源代理的长视频流只受
客户端断开与关闭流程约束。

# 核心类型

  - Manager：持有 http.Server、net.Listener 与异步错误通道
  - Config：监听地址、读写超时、空闲超时、优雅关闭超时

# 主要能力

  - Start 在后台 goroutine 中运行服务
  - Shutdown 超时后强制关闭剩余连接
  - WaitAny 等待 ctx 结束或任一服务器异常退出
*/
package server
