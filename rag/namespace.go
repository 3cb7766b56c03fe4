package rag

import (
	"strings"

	"github.com/BaSui01/entitygraph/types"
)

// =============================================================================
// 🏷️ 命名空间
// =============================================================================

// namespaceSep 分隔实体名与 uid；两部分中的 ':' 与 '\' 都会被转义
const namespaceSep = ':'

// Namespace 返回 (entity, uid) 的确定性命名空间 "entity:uid"。
// 两部分中的 '\' 写作 "\\"，':' 写作 "\:"，因此任意输入都能被 ParseNamespace 还原。
func Namespace(entity, uid string) (string, error) {
	if entity == "" {
		return "", types.NewError(types.ErrInvalidNamespace, "namespace entity must not be empty")
	}
	if uid == "" {
		return "", types.NewError(types.ErrInvalidNamespace, "namespace uid must not be empty").WithEntity(entity)
	}
	var b strings.Builder
	b.Grow(len(entity) + len(uid) + 1)
	escapeInto(&b, entity)
	b.WriteByte(namespaceSep)
	escapeInto(&b, uid)
	return b.String(), nil
}

// MustNamespace 与 Namespace 相同，但在参数非法时 panic。仅用于测试与常量。
func MustNamespace(entity, uid string) string {
	ns, err := Namespace(entity, uid)
	if err != nil {
		panic(err)
	}
	return ns
}

func escapeInto(b *strings.Builder, s string) {
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '\\', namespaceSep:
			b.WriteByte('\\')
			b.WriteByte(c)
		default:
			b.WriteByte(c)
		}
	}
}

// ParseNamespace 是 Namespace 的逆运算
func ParseNamespace(ns string) (entity, uid string, err error) {
	var (
		b       strings.Builder
		escaped bool
		split   = -1
	)
	for i := 0; i < len(ns); i++ {
		c := ns[i]
		switch {
		case escaped:
			if c != '\\' && c != namespaceSep {
				return "", "", types.Errorf(types.ErrInvalidNamespace, "invalid escape %q at offset %d", "\\"+string(c), i)
			}
			b.WriteByte(c)
			escaped = false
		case c == '\\':
			escaped = true
		case c == namespaceSep:
			if split >= 0 {
				return "", "", types.Errorf(types.ErrInvalidNamespace, "unescaped separator at offset %d", i)
			}
			entity = b.String()
			b.Reset()
			split = i
		default:
			b.WriteByte(c)
		}
	}
	if escaped {
		return "", "", types.NewError(types.ErrInvalidNamespace, "namespace ends with a dangling escape")
	}
	if split < 0 {
		return "", "", types.Errorf(types.ErrInvalidNamespace, "namespace %q has no separator", ns)
	}
	uid = b.String()
	if entity == "" || uid == "" {
		return "", "", types.Errorf(types.ErrInvalidNamespace, "namespace %q has an empty part", ns)
	}
	return entity, uid, nil
}
