// 版权所有 2024 Standforge Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 orchestrator 实现一次替身生成的完整流程。

# 流程

  1. 查询指纹缓存，命中则重新写入历史并直接返回（PERSISTED）。
  2. 概念调用（带重试）得到名字与外貌，失败即整体失败。
  3. 推送只有名字的快照，图像为 pending。
  4. 档案与图像两路并发，各自带重试。
  5. 档案就绪后推送档案快照；图像一路等档案完成后再合并。
  6. 合并后的产物写入缓存与历史，推送最终快照。

每次生成严格推送三个快照（名字、档案、完整），缓存命中只推送一个。
档案失败的处理由 ProfileFailurePolicy 决定：fatal 整体失败，
degrade 以概念结果补齐并标记 ProfileIncomplete。
图像失败或超时统一降级为 "failed" 哨兵值。

# 状态

IDLE → CONCEPT_PENDING → PROFILE_AND_IMAGE_PENDING →
{PROFILE_READY, IMAGE_READY} → MERGED → PERSISTED，任意非终态可转入 FAILED。
*/
package orchestrator
