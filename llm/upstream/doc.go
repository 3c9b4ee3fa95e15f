// Copyright (c) Standforge Authors.
// Licensed under the MIT License.

/*
Package upstream 封装两种上游 AI 服务方言的 HTTP 调用。

# 方言

  - DialectNativeJSON：Gemini 原生 generateContent 接口，
    请求形如 {contents:[{parts:[...]}]}，密钥通过 x-goog-api-key 头传递；
    响应从 candidates[0].content.parts 读取文本或内联图像
    （同时兼容 inline_data 与 inlineData 两种命名）。
  - DialectOpenAICompatible：OpenAI 兼容接口，Bearer 鉴权，
    文本走 /v1/chat/completions，图像走 /v1/images/generations。

方言在配置阶段一次性确定（ParseDialect），调用时不再做字符串推断。

# 错误

非 2xx 响应映射为携带状态码与原始响应体的 *types.Error；
2xx 但载荷不可用返回 MALFORMED_RESPONSE；响应体包含额度耗尽关键字时
返回 QUOTA_EXHAUSTED 且不可重试；context 超时返回 TIMEOUT。

# 可观测性

每次调用开启一个 OpenTelemetry span（upstream.text / upstream.image），
并通过 Recorder 记录 Prometheus 请求计数与耗时。
*/
package upstream
