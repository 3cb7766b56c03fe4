// =============================================================================
// 🧪 测试辅助函数
// =============================================================================
// 提供通用的测试辅助函数和断言
//
// 使用方法:
//
//	ctx := testutil.TestContext(t)
//	testutil.AssertHasCandidate(t, cands, "orders", "user_id", "users")
//
// =============================================================================
package testutil

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/BaSui01/entitygraph/types"
)

// =============================================================================
// 🎯 上下文辅助
// =============================================================================

// TestContext 返回带超时的测试上下文
func TestContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// TestContextWithTimeout 返回带自定义超时的测试上下文
func TestContextWithTimeout(t *testing.T, timeout time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}

// CancelledContext 返回已取消的上下文
func CancelledContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

// =============================================================================
// 📝 日志辅助
// =============================================================================

// ObservedLogger 返回记录所有日志条目的 logger，用于断言告警与错误日志
func ObservedLogger() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zap.DebugLevel)
	return zap.New(core), logs
}

// =============================================================================
// 🔍 断言辅助
// =============================================================================

// FindCandidate 按 (source, localKey, target) 查找候选
func FindCandidate(cands []types.RelationshipCandidate, src, localKey, target string) (types.RelationshipCandidate, bool) {
	for _, c := range cands {
		if c.SourceEntity == src && c.LocalKey == localKey && c.TargetEntity == target {
			return c, true
		}
	}
	return types.RelationshipCandidate{}, false
}

// AssertHasCandidate 断言候选列表包含指定关系并返回它
func AssertHasCandidate(t *testing.T, cands []types.RelationshipCandidate, src, localKey, target string) types.RelationshipCandidate {
	t.Helper()
	c, ok := FindCandidate(cands, src, localKey, target)
	if !ok {
		t.Errorf("expected candidate %s.%s -> %s, got %s", src, localKey, target, describe(cands))
	}
	return c
}

// AssertNoCandidate 断言候选列表不包含指定关系
func AssertNoCandidate(t *testing.T, cands []types.RelationshipCandidate, src, localKey, target string) {
	t.Helper()
	if _, ok := FindCandidate(cands, src, localKey, target); ok {
		t.Errorf("unexpected candidate %s.%s -> %s", src, localKey, target)
	}
}

func describe(cands []types.RelationshipCandidate) string {
	parts := make([]string, 0, len(cands))
	for _, c := range cands {
		parts = append(parts, c.SourceEntity+"."+c.LocalKey+"->"+c.TargetEntity)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// AssertJSONEqual 断言两个值的 JSON 表示相等
func AssertJSONEqual(t *testing.T, expected, actual any) {
	t.Helper()

	expectedJSON, err := json.Marshal(expected)
	if err != nil {
		t.Fatalf("failed to marshal expected: %v", err)
	}

	actualJSON, err := json.Marshal(actual)
	if err != nil {
		t.Fatalf("failed to marshal actual: %v", err)
	}

	if string(expectedJSON) != string(actualJSON) {
		t.Errorf("JSON mismatch:\nexpected: %s\nactual: %s", expectedJSON, actualJSON)
	}
}

// AssertEventuallyTrue 断言条件最终为真
func AssertEventuallyTrue(t *testing.T, condition func() bool, timeout time.Duration) {
	t.Helper()
	if !WaitFor(condition, timeout) {
		t.Errorf("condition did not become true within %v", timeout)
	}
}

// AssertErrorCode 断言 err 是带指定错误码的 *types.Error
func AssertErrorCode(t *testing.T, err error, code types.ErrorCode) {
	t.Helper()
	if err == nil {
		t.Errorf("expected error with code %s, got nil", code)
		return
	}
	if !types.IsErrorCode(err, code) {
		t.Errorf("expected error code %s, got %q (%v)", code, types.GetErrorCode(err), err)
	}
}

// =============================================================================
// ⏱️ 时间辅助
// =============================================================================

// WaitFor 等待条件满足或超时
func WaitFor(condition func() bool, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

// =============================================================================
// 🔧 测试数据辅助
// =============================================================================

// MustJSON 将值转换为 JSON 字符串，失败时 panic
func MustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}
