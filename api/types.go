package api

import (
	"time"

	"github.com/BaSui01/entitygraph/graph"
	"github.com/BaSui01/entitygraph/rag"
	"github.com/BaSui01/entitygraph/types"
)

// =============================================================================
// 📦 统一响应
// =============================================================================

// Response 统一 API 响应结构
type Response struct {
	Success   bool       `json:"success"`
	Data      any        `json:"data,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
	RequestID string     `json:"request_id,omitempty"`
}

// ErrorInfo 错误信息结构
type ErrorInfo struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Entity    string `json:"entity,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

// =============================================================================
// 🔍 候选关系
// =============================================================================

// CandidatesResponse GET /v1/candidates 的响应
type CandidatesResponse struct {
	Fingerprint string                        `json:"fingerprint"`
	Entities    []string                      `json:"entities"`
	Candidates  []types.RelationshipCandidate `json:"candidates"`
	DetectedAt  time.Time                     `json:"detected_at"`
}

// =============================================================================
// 🕸️ 实体图与分块
// =============================================================================

// GraphResponse GET /v1/graphs/{entity}/{uid} 的响应
type GraphResponse struct {
	BuildID   string       `json:"build_id,omitempty"`
	Namespace string       `json:"namespace"`
	Partial   bool         `json:"partial"`
	Graph     *graph.Graph `json:"graph"`
}

// ChunksResponse GET /v1/chunks/{entity}/{uid} 的响应
type ChunksResponse struct {
	BuildID   string             `json:"build_id"`
	Namespace string             `json:"namespace"`
	Partial   bool               `json:"partial"`
	Chunks    []rag.ContextChunk `json:"chunks"`
}

// BatchRequest POST /v1/chunks 的请求体
type BatchRequest struct {
	Roots []RootRef `json:"roots"`
}

// RootRef 一个根记录
type RootRef struct {
	Entity string `json:"entity"`
	UID    string `json:"uid"`
}

// BatchResponse POST /v1/chunks 的响应，与请求的 roots 一一对应
type BatchResponse struct {
	Results []ChunksResponse `json:"results"`
}
