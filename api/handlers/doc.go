// 版权所有 2024 Standforge Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package handlers 提供 Standforge HTTP API 的请求处理器实现。

# 概述

所有 Handler 均遵循标准 net/http 接口。/generate 与 /generate-text
沿用前端约定的扁平 {"error": "..."} 错误体；其余接口使用统一的
Response 信封，错误码经 mapErrorCodeToHTTPStatus 映射为状态码。

# 核心类型

  - GenerateHandler：POST /generate，action=profile 返回档案，
    action=image 经 relay 流式或同步返回图像
  - TextProxyHandler：POST /generate-text 透传代理与 CORS 预检
  - StandHandler：NDJSON 与 WebSocket 快照流、历史记录 REST
  - HealthHandler：/health、/healthz、/ready、/version
  - PingCheck：以 ping 函数实现的就绪检查（数据库、Redis、MongoDB）

# 请求体

DecodeJSONBody 限制 1 MB 并拒绝未知字段；携带参考图的生成请求
放宽到 StandMaxBodyBytes。
*/
package handlers
