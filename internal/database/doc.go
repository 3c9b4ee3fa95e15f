// 版权所有 2024 Standforge Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 database 提供基于 GORM 的数据库连接与连接池管理，历史记录的
database 后端和迁移器都从这里拿连接。

# 概述

Open 按配置中的驱动名（postgres、mysql、sqlite）选择 GORM 方言。
SQLite 走纯 Go 的 modernc.org/sqlite 驱动，不依赖 cgo。
PoolManager 封装 GORM 与 database/sql 的连接池配置，统一管理
连接生命周期，并在后台定时探活。

# 核心类型

  - PoolManager：连接池管理器，提供 DB()、SQLDB()、Ping()、Stats()、
    Close() 与 WithTransaction()。
  - PoolConfig：连接池配置，PoolConfigFrom 从 config.DatabaseConfig 派生。
  - StatsRecorder：健康检查时上报连接数，由 metrics.Collector 实现。
  - PoolStats：友好格式的连接池统计信息。
*/
package database
