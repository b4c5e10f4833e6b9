/*
包 proxy 提供视频资源的流式代理网关。

目标可以是原始 URL，也可以是对象存储的 key（映射为存储的公开地址），
二者必须且只能提供一个。每个请求、每一跳重定向都先经过主机白名单校验，
校验通过后才会发起网络请求；重定向最多跟随 5 跳。

只转发 Range / If-None-Match / If-Modified-Since 请求头，以及固定的一组
响应头。2xx 响应在上游未给出 Cache-Control 时使用默认缓存策略，非 2xx
一律 no-store。

响应体按块写出并立即 flush；只有在 ResponseWriter 无法 flush 时才退化为
有上限的整体缓冲。客户端断开会取消上游请求。
*/
package proxy
