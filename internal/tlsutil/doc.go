// Package tlsutil 集中提供 TLS 配置：上游 AI 客户端的 Transport
// 与 Redis 缓存连接共用同一套加固设置（TLS 1.2+，仅 AEAD 密码套件）。
package tlsutil
