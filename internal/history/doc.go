// 版权所有 2024 Standforge Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 history 保存已完成的生成结果（MergedArtifact），按时间倒序读取。

# 后端

  - GormStore：stands 表，支持 PostgreSQL、MySQL、SQLite，表结构由
    internal/migration 管理。
  - MongoStore：单个集合，_id 即产物 id。
  - MemoryStore：进程内存储，用于单进程部署与测试。

# 策略

Policy 控制保留条数（MaxItems）与按 name + abilityName 去重（Dedupe）。
同一 id 的写入是覆盖更新，缓存命中时重新写入只刷新时间戳。
去重时保留已有记录，新记录被忽略。

Import 导入旧版浏览器端导出的 JSON 历史（DecodeLegacyExport）。
*/
package history
