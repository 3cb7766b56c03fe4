/*
Package testutil 提供 EntityGraph 测试的共享工具和辅助函数。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout / CancelledContext，
    自动注册 Cleanup 防止泄漏
  - 断言工具: AssertHasCandidate / AssertNoCandidate / AssertErrorCode /
    AssertJSONEqual / AssertEventuallyTrue
  - 日志辅助: ObservedLogger 返回可断言的 zap logger

# 子包

  - testutil/mocks: MockSource 包装任意数据源，支持按实体注入错误、
    模拟延迟与并发观测
  - testutil/fixtures: 预置的内存数据集（users/orders、自引用 employees、
    shop）及其已知候选关系

# 使用示例

	ctx := testutil.TestContext(t)
	src := mocks.NewMockSource(fixtures.UsersOrders())
	cands, err := detector.Detect(ctx, "orders", fields, src)
	testutil.AssertHasCandidate(t, cands, "orders", "user_id", "users")
*/
package testutil
