// Package config 提供 Standforge 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → 旧版环境变量 → STANDFORGE_ 前缀环境变量
// 的顺序叠加，Validate 负责检查端口、上游方言、重试、缓存与历史后端等设置。
package config
