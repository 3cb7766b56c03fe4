// Package api 定义 entitygraph HTTP API 的请求与响应结构。
//
// # API Overview
//
//   - GET  /v1/candidates                候选关系快照
//   - POST /v1/candidates/refresh        重新内省数据源
//   - GET  /v1/graphs/{entity}/{uid}     构建实体图
//   - GET  /v1/chunks/{entity}/{uid}     构建实体图并分块
//   - POST /v1/chunks                    批量分块
//
// 所有响应使用 Response 包装（success + data + error + timestamp）。
//
// # Authentication
//
// 配置了 server.api_keys 时，除健康检查外的端点需要 X-API-Key 请求头:
//
//	X-API-Key: your-api-key
package api
