// 版权所有 2024 Standforge Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 relay 实现图像一路的"先响应、后计算"流式中继。

托管平台对同步响应有较短的时限，但对已开始输出的流式响应允许更长
时间。Serve 在任务开始前就写出 200 与 Content-Type: application/json
并立即 flush，随后在后台执行任务，结束时写入唯一一个 JSON 对象：

	{"imageData": "<data URI 或 URL>"}   成功
	{"error": "...", "raw": "..."}       上游失败
	{"error": "..."}                     本地失败

等待期间可按 keepalive 间隔写入空白字符，JSON 前导空白不影响解析。
客户端断开后任务被取消，迟到的结果被丢弃并记录 debug 日志。

Respond 是不经过流式中继的同步版本，状态码反映结果。
*/
package relay
