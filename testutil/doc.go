// 版权所有 2024 Standforge Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package testutil 提供 standforge 测试的共享工具和辅助函数。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout / CancelledContext，
    自动注册 Cleanup 防止泄漏
  - 断言工具: AssertJSONEqual / AssertEventuallyTrue / AssertEventuallyEqual
  - 时间工具: SleepRecorder 记录重试等待，FakeClock 手动推进时间
  - 数据工具: MustJSON / MustParseJSON / Collect

# 子包

  - testutil/mocks: MockAdapter，按脚本返回上游文本与图像结果，
    支持错误注入、阻塞直到超时与调用计数
  - testutil/fixtures: 预置的生成请求、概念与档案的模型输出样例

# 使用示例

	adapter := mocks.NewMockAdapter().
		WithText(mocks.Text(fixtures.ConceptJSON), mocks.Text(fixtures.ProfileJSON)).
		WithImage(mocks.Image(fixtures.InlineImage()))
	sleeper := testutil.NewSleepRecorder()
*/
package testutil
