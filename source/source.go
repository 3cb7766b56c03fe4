package source

import (
	"context"
	"time"

	"github.com/BaSui01/entitygraph/types"
)

// Record 是数据源返回的一条实体记录
type Record struct {
	Entity string      `json:"entity"`
	UID    string      `json:"uid"`
	Data   types.Value `json:"data"`
	// Timestamp 为零值表示记录没有时间戳
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// HasTimestamp reports whether the record carries a timestamp.
func (r Record) HasTimestamp() bool { return !r.Timestamp.IsZero() }

// Introspector 列出实体的字段
type Introspector interface {
	ListFields(ctx context.Context, entity string) ([]types.Field, error)
}

// Sampler 为关系检测提供采样能力，可作用于任意实体
type Sampler interface {
	Entities(ctx context.Context) ([]string, error)
	PrimaryKey(ctx context.Context, entity string) (string, error)
	SampleValues(ctx context.Context, entity, field string, n int) ([]types.Value, error)
	SamplePrimaryKeys(ctx context.Context, entity string, n int) ([]types.Value, error)
}

// Fetcher 为图构建提供记录读取能力
type Fetcher interface {
	FetchByKey(ctx context.Context, entity, uid string) (Record, error)
	// FetchRelated 返回 localKey 字段等于 value 的记录，最多 limit 条，保持数据源返回顺序
	FetchRelated(ctx context.Context, entity, localKey string, value types.Value, limit int) ([]Record, error)
}

// Source 是完整的数据源协作者
type Source interface {
	Name() string
	Introspector
	Sampler
	Fetcher
}

// timestampOf 从记录中按字段优先级提取时间戳，支持 RFC3339 字符串
func timestampOf(data types.Value, fields []string) time.Time {
	for _, f := range fields {
		v, ok := data.Get(f)
		if !ok {
			continue
		}
		if t, ok := v.AsTime(); ok {
			return t
		}
		if s, ok := v.AsString(); ok {
			if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
				return t.UTC()
			}
		}
	}
	return time.Time{}
}

func unavailable(entity, format string, args ...any) *types.Error {
	return types.Errorf(types.ErrSamplingUnavailable, format, args...).WithEntity(entity)
}
