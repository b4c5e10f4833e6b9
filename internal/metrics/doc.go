/*
包 metrics 提供基于 Prometheus 的指标采集能力，覆盖 HTTP、
厂商调用、资源重定位与流式代理四个维度。

# 概述

本包通过 Collector 统一注册和记录 Prometheus 指标，使用 promauto
自动注册机制，避免手动管理 Registry。所有指标按 namespace 隔离，
支持多维度 label 分组，便于 Grafana 等工具进行可视化与告警。

# 核心类型

  - Collector：指标收集器，持有 Counter、Histogram 等
    Prometheus 向量指标，按业务域分组管理。

# 主要能力

  - HTTP 指标：请求总数、请求耗时、请求/响应体大小，
    按 method/path/status 分组，状态码归类为 2xx/3xx/4xx/5xx。
  - 厂商调用指标：submit/poll 次数与耗时，按 provider/operation/outcome 分组。
  - 重定位指标：按结果(hit/relocated/rejected/...)计数、耗时与写入字节数。
  - 代理指标：请求结果、状态码分类、传输字节数与重定向跳数。
*/
package metrics
