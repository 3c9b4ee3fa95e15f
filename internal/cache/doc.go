// 版权所有 2024 Standforge Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 cache 提供按请求指纹缓存生成结果的能力，避免相同输入在时间窗口内
重复调用付费的上游 AI 接口。

# 概述

FingerprintCache 以请求的规范化 JSON（歌曲、代表色、精神特质、使者名，
以及参考图的 SHA-256）作为指纹，存储键为 "standforge:stand:" 加指纹的
SHA-256。记录在写入 55 分钟后过期，过期记录在读取时惰性删除。

# 核心类型

  - FingerprintCache：指纹缓存，负责序列化、过期判断与命中统计。
  - Store：底层键值存储端口，提供 Get/Set/Delete/Ping/Close。
  - MemoryStore：进程内实现，适用于单实例部署与测试。
  - RedisStore：基于 go-redis 的实现，支持连接池与后台健康检查。

# 错误语义

存储层错误只记录日志并按未命中处理，缓存故障不会阻断生成流程。
ErrCacheMiss 为未命中哨兵错误，IsCacheMiss 基于 errors.Is 判断。
*/
package cache
