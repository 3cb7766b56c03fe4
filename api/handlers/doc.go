/*
Package handlers 提供 entitygraph HTTP API 的请求处理器实现。

# 核心类型

  - PipelineHandler  — 候选关系、实体图与分块端点
  - HealthHandler    — 服务健康检查（/health, /healthz, /ready）
  - HealthCheck      — 可插拔健康检查接口，FuncCheck 适配任意 ping 函数
  - ResponseWriter   — 包装 http.ResponseWriter 以捕获状态码

# 主要能力

  - 统一响应格式：WriteSuccess / WriteError / WriteJSON
  - types.ErrorCode → HTTP 状态码映射（StatusForCode）
  - 请求验证：DecodeJSONBody（1 MB 限制 + 严格模式）
*/
package handlers
