package ctxkeys

import "context"

// contextKey 用于在 context 中存储值的键类型
type contextKey string

const (
	buildIDKey  contextKey = "build_id"
	rootNodeKey contextKey = "root_node"
)

// WithBuildID 设置本次构建的 ID
func WithBuildID(ctx context.Context, buildID string) context.Context {
	return context.WithValue(ctx, buildIDKey, buildID)
}

// BuildID 获取构建 ID
func BuildID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(buildIDKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithRootNode 记录本次构建的根节点（entity:uid 命名空间）
func WithRootNode(ctx context.Context, namespace string) context.Context {
	return context.WithValue(ctx, rootNodeKey, namespace)
}

// RootNode 获取根节点命名空间
func RootNode(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(rootNodeKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
