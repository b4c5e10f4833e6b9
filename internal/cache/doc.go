/*
包 cache 提供基于 Redis 的缓存管理能力，支持连接池、健康检查与
分布式占用锁原语。

# 概述

本包封装 go-redis 客户端，为资源重定位的跨进程去重提供存储。
Manager 负责连接生命周期管理，包括初始化、健康检查与优雅关闭。

# 核心类型

  - Manager：缓存管理器，持有 Redis 客户端与连接池配置，
    提供 Get/Set/Delete/Ping 等基础操作。
  - Config：缓存配置，包含地址、密码、连接池大小、默认 TTL
    与健康检查间隔等参数。

# 主要能力

  - 键值读写：字符串缓存存取，支持 TTL。
  - 占用锁：SetNX 抢占，CompareAndDelete 仅释放自己持有的锁。
  - 健康检查：后台定时 Ping 检测，异常时通过 zap 日志告警。
  - 错误语义：提供 ErrCacheMiss 哨兵错误与 IsCacheMiss 判断函数。
*/
package cache
