// Package ctxkeys 定义请求级 context 键（请求 ID、TraceID），
// 供 HTTP 中间件写入，上游调用与编排器日志读取。
package ctxkeys
