/*
Package main 提供 mediaflow 服务端程序入口。

# 概述

cmd/mediaflow 组装存储、白名单、重定位、厂商适配器、编排器与资源代理，
并通过 API 与 Metrics 双端口对外服务。配置来自 YAML 文件与
MEDIAFLOW_* 环境变量，日志使用 zap，指标使用 Prometheus。

# 核心类型

  - Server           — 组件装配、路由与优雅关闭
  - Middleware       — HTTP 中间件函数签名 func(http.Handler) http.Handler
  - responseWriter   — 捕获状态码，支持 Unwrap 以保留流式 Flush

# 主要能力

  - 子命令：serve、version、health
  - 中间件链：Recovery、RequestID、SecurityHeaders、RequestLogger、
    MetricsMiddleware、OTelTracing、CORS、RateLimiter、APIKeyAuth
  - 仅配置了凭证的厂商会被注册
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
