package detect

import (
	"strings"
	"unicode"

	"github.com/jinzhu/inflection"
)

// referenceSuffixes 按匹配优先级排列，长后缀在前
var referenceSuffixes = []string{"_reference", "Reference", "_ref", "Ref", "_id", "ID", "Id"}

// referencePrefix 去掉引用后缀，返回蛇形小写前缀。
// "userId" → "user"，"order_item_ref" → "order_item"，"id" → ("", false)。
func referencePrefix(field string) (string, bool) {
	for _, suffix := range referenceSuffixes {
		if !strings.HasSuffix(field, suffix) {
			continue
		}
		prefix := strings.TrimRight(strings.TrimSuffix(field, suffix), "_")
		if prefix == "" {
			return "", false
		}
		return snakeCase(prefix), true
	}
	return "", false
}

// snakeCase 将驼峰名转换为蛇形小写："OrderItem" → "order_item"，"userID" → "user_id"
func snakeCase(s string) string {
	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(s) + 4)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			prevLower := i > 0 && (unicode.IsLower(runes[i-1]) || unicode.IsDigit(runes[i-1]))
			nextLower := i > 0 && i+1 < len(runes) && unicode.IsLower(runes[i+1]) && unicode.IsUpper(runes[i-1])
			if (prevLower || nextLower) && b.Len() > 0 && !strings.HasSuffix(b.String(), "_") {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		if r == '-' || r == ' ' {
			r = '_'
		}
		b.WriteRune(r)
	}
	return b.String()
}

// canonical 用于大小写与下划线不敏感的实体名比较
func canonical(name string) string {
	return strings.ToLower(strings.ReplaceAll(name, "_", ""))
}

// nameForms 返回前缀本身及其复数、单数形式（去重，顺序固定）
func nameForms(prefix string) []string {
	forms := []string{prefix, inflection.Plural(prefix), inflection.Singular(prefix)}
	out := forms[:0]
	seen := make(map[string]bool, len(forms))
	for _, f := range forms {
		c := canonical(f)
		if f == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, f)
	}
	return out
}

// resolveEntity 在已知实体中查找与前缀匹配的实体
func resolveEntity(prefix string, entities []string) (string, bool) {
	index := make(map[string]string, len(entities))
	for _, e := range entities {
		c := canonical(e)
		if _, dup := index[c]; !dup {
			index[c] = e
		}
	}
	for _, form := range nameForms(prefix) {
		if e, ok := index[canonical(form)]; ok {
			return e, true
		}
	}
	return "", false
}
