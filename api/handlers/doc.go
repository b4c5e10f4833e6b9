/*
Package handlers 提供 mediaflow HTTP API 的请求处理器实现。

# 概述

handlers 包实现视频生成提交与轮询、服务商列表、预签名上传、
健康检查以及统一的响应/错误处理。资源代理由 media/proxy 直接
挂载，错误输出通过 ErrorWriter 复用本包的 JSON 格式。

# 核心类型

  - VideoHandler     — 提交、轮询、服务商列表
  - UploadHandler    — 参考素材预签名直传
  - HealthHandler    — /health, /healthz, /ready, /version
  - Response         — 统一 JSON 响应结构（success + data + error + timestamp + request_id）
  - ErrorInfo        — 结构化错误信息，含 code、provider、retryable
  - ResponseWriter   — 捕获状态码，支持 Unwrap 以保留 Flush 能力

# 主要能力

  - 请求验证：DecodeJSONBody（1 MB 限制 + 严格模式）、ValidateContentType
  - ErrorCode → HTTP 状态码映射，5xx 记录 Error 日志
  - 健康检查并行执行，单项超时独立计算
*/
package handlers
