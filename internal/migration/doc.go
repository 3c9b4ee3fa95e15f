// 版权所有 2024 Standforge Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 migration 管理 stands 历史表的 Schema 版本，支持 PostgreSQL、
MySQL 与 SQLite，基于 golang-migrate 实现。

# 概述

迁移文件通过 embed.FS 内嵌在 migrations/<方言>/ 目录下，三种方言
保持相同的版本序列。SQLite 使用 golang-migrate 的 database/sqlite
驱动（modernc.org/sqlite，无需 cgo）。

# 核心接口与类型

  - Migrator：Up/Down/DownAll/Steps/Goto/Force/Version/Status/Info/Close。
  - DefaultMigrator：Migrator 的默认实现，ctx 取消时请求
    golang-migrate 在当前迁移结束后停止。
  - CLI：`standforge migrate` 子命令的终端输出层。
  - ApplyPending：服务启动时自动执行待执行迁移。
*/
package migration
