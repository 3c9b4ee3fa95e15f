// 版权所有 2024 Standforge Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

// Package api 定义 Standforge HTTP API 的请求与响应结构。
//
// # API Overview
//
// Standforge 提供以下接口：
//   - POST /generate：action=profile 返回档案 JSON，action=image 返回流式图像结果
//   - POST /generate-text：原生 generateContent 透传代理（带 CORS 预检）
//   - POST /api/v1/stands：NDJSON 快照流
//   - GET /api/v1/stands/ws：WebSocket 快照流
//   - GET/DELETE /api/v1/stands[/{id}]：历史记录
//   - /health、/healthz、/ready、/version
//
// # Base URL
//
// The default base URL for the API is:
//
//	http://localhost:8080
//
// # Error Bodies
//
// /generate 与 /generate-text 使用扁平的 {"error": "..."} 错误体，
// 其余接口使用统一的 Response 信封（success + data + error + timestamp）。
package api
