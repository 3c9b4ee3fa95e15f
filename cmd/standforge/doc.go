// 版权所有 2024 Standforge Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package main 提供 Standforge 服务端程序入口。

# 概述

cmd/standforge 装配上游客户端、指纹缓存、历史存储、编排器与中继，
对外暴露生成接口、文本代理、替身历史与 WebSocket 中继，另提供数据库
迁移和历史记录维护的命令行。

# 子命令

  - serve：启动 API 与 Metrics 双端口服务
  - migrate：up、down、reset、status、version、info、steps、goto、force
  - history：list、import（旧版浏览器导出）、clear
  - health：探测运行中服务的 /health 或 /ready
  - version：打印构建信息

# 中间件链

由外到内依次为 Recovery、RequestID、OTelTracing、SecurityHeaders、
RequestLogger、MetricsMiddleware、CORS、RateLimiter。/generate-text
自行应答 OPTIONS，CORS 对它直接放行。

Version、BuildTime、GitCommit 通过 ldflags 注入。
*/
package main
