// Copyright (c) Standforge Authors.
// Licensed under the MIT License.

/*
Package types 提供 standforge 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 orchestrator、upstream、
cache、history、api 等上层模块提供统一的类型契约。

# 核心类型

  - GenerationRequest：一次生成的输入（歌曲、代表色、精神特质、使者名、可选参考图）
  - ConceptResult：概念阶段结果（名称 + 外貌描述）
  - FullProfile：档案阶段结果（能力、机制、限制、六维评级等）
  - Grade / Stats：有序评级枚举 None < E < D < C < B < A < ∞
  - ImageArtifact：内联图像 / 远程 URL / "failed" 哨兵
  - MergedArtifact：最终合并产物，写入缓存与历史
  - Error / ErrorCode：结构化错误体系，含 HTTP 状态码、Retryable、Raw 原始响应

# 错误工具链

AsError / IsRetryable / GetErrorCode / IsErrorCode 基于 errors.As，
可以穿透 fmt.Errorf("%w") 包装。
*/
package types
