// =============================================================================
// 📦 测试数据工厂 - 内存数据源
// =============================================================================
// 提供预定义的实体数据集与候选关系，用于检测、图构建与分块测试
// =============================================================================
package fixtures

import (
	"time"

	"github.com/BaSui01/entitygraph/source"
	"github.com/BaSui01/entitygraph/types"
)

// Row 由交替的键值对构造 Map 值，键顺序即参数顺序
func Row(kv ...any) types.Value {
	v := types.NewMap()
	for i := 0; i+1 < len(kv); i += 2 {
		v = v.Set(kv[i].(string), types.FromAny(kv[i+1]))
	}
	return v
}

// BaseTime 是数据集中所有时间戳的基准
var BaseTime = time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC)

// =============================================================================
// 👤 users / orders
// =============================================================================

// UsersOrders 返回 users(id) 与 orders(id, user_id)。
// 用户 1 有 3 个订单（101、102、104）。
func UsersOrders() *source.MemorySource {
	return source.NewMemorySource("fixture").
		AddTable(source.Table{
			Name:           "users",
			TimestampField: "created_at",
			Rows: []types.Value{
				Row("id", 1, "name", "Alice", "email", "alice@example.com", "created_at", BaseTime),
				Row("id", 2, "name", "Bob", "email", "bob@example.com", "created_at", BaseTime.Add(time.Hour)),
				Row("id", 3, "name", "Carol", "email", "carol@example.com", "created_at", BaseTime.Add(2*time.Hour)),
			},
		}).
		AddTable(source.Table{
			Name: "orders",
			Rows: []types.Value{
				Row("id", 101, "user_id", 1, "total", 19.99, "status", "shipped"),
				Row("id", 102, "user_id", 1, "total", 5.25, "status", "pending"),
				Row("id", 103, "user_id", 2, "total", 42.5, "status", "shipped"),
				Row("id", 104, "user_id", 1, "total", 7.75, "status", "cancelled"),
				Row("id", 105, "user_id", 3, "total", 12.1, "status", "shipped"),
			},
		})
}

// UsersOrdersCandidates 是 UsersOrders 的已知关系
func UsersOrdersCandidates() types.CandidateSet {
	return types.CandidateSet{
		{
			SourceEntity: "orders",
			LocalKey:     "user_id",
			TargetEntity: "users",
			TargetKey:    "id",
			Kind:         types.RelationManyToOne,
			Confidence:   1,
			Method:       types.DetectionStatistical,
		},
	}
}

// =============================================================================
// 🧑‍💼 employees（自引用）
// =============================================================================

// Employees 返回自引用的 employees(id, manager_id)，员工 1 的经理是自己。
// 经理 1 有 3 名下属（含自己），经理 2 有 2 名，经理 3 有 1 名。
func Employees() *source.MemorySource {
	return source.NewMemorySource("fixture").
		AddTable(source.Table{
			Name: "employees",
			Rows: []types.Value{
				Row("id", 1, "name", "Ada", "manager_id", 1),
				Row("id", 2, "name", "Grace", "manager_id", 1),
				Row("id", 3, "name", "Linus", "manager_id", 1),
				Row("id", 4, "name", "Ken", "manager_id", 2),
				Row("id", 5, "name", "Rob", "manager_id", 2),
				Row("id", 6, "name", "Dennis", "manager_id", 3),
			},
		})
}

// EmployeesCandidates 是 Employees 的自引用关系
func EmployeesCandidates() types.CandidateSet {
	return types.CandidateSet{
		{
			SourceEntity: "employees",
			LocalKey:     "manager_id",
			TargetEntity: "employees",
			TargetKey:    "id",
			Kind:         types.RelationManyToOne,
			Confidence:   1,
			Method:       types.DetectionStatistical,
		},
	}
}

// =============================================================================
// 🛒 shop（多实体）
// =============================================================================

// 商品主键为 UUID
const (
	ProductKeyboard = "0b6f5f0e-8d0b-4c55-9a57-6b1f1f3f6a01"
	ProductMouse    = "7c1d2e3f-4a5b-4c6d-8e7f-9a0b1c2d3e02"
	ProductMonitor  = "e4f5a6b7-c8d9-4e0f-a1b2-c3d4e5f60703"
)

// Shop 返回 users、orders、products、order_items 四张表
func Shop() *source.MemorySource {
	src := UsersOrders()
	src.AddTable(source.Table{
		Name: "products",
		Rows: []types.Value{
			Row("id", ProductKeyboard, "title", "Keyboard", "price", 49.9),
			Row("id", ProductMouse, "title", "Mouse", "price", 19.5),
			Row("id", ProductMonitor, "title", "Monitor", "price", 189.0),
		},
	})
	src.AddTable(source.Table{
		Name: "order_items",
		Rows: []types.Value{
			Row("id", 1001, "order_id", 101, "product_id", ProductKeyboard, "quantity", 1),
			Row("id", 1002, "order_id", 101, "product_id", ProductMouse, "quantity", 2),
			Row("id", 1003, "order_id", 102, "product_id", ProductMonitor, "quantity", 1),
			Row("id", 1004, "order_id", 103, "product_id", ProductMouse, "quantity", 1),
			Row("id", 1005, "order_id", 105, "product_id", ProductKeyboard, "quantity", 3),
		},
	})
	return src
}

// ShopCandidates 是 Shop 的已知关系
func ShopCandidates() types.CandidateSet {
	set := UsersOrdersCandidates()
	return append(set,
		types.RelationshipCandidate{
			SourceEntity: "order_items",
			LocalKey:     "order_id",
			TargetEntity: "orders",
			TargetKey:    "id",
			Kind:         types.RelationManyToOne,
			Confidence:   1,
			Method:       types.DetectionStatistical,
		},
		types.RelationshipCandidate{
			SourceEntity: "order_items",
			LocalKey:     "product_id",
			TargetEntity: "products",
			TargetKey:    "id",
			Kind:         types.RelationManyToOne,
			Confidence:   1,
			Method:       types.DetectionStatistical,
		},
	)
}
