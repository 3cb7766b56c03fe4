package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/BaSui01/entitygraph"
	"github.com/BaSui01/entitygraph/api"
	"github.com/BaSui01/entitygraph/detect"
	"github.com/BaSui01/entitygraph/rag"
	"github.com/BaSui01/entitygraph/types"
)

// maxBatchRoots 单次批量请求的根记录上限
const maxBatchRoots = 100

// =============================================================================
// 🕸️ Pipeline Handler
// =============================================================================

// PipelineHandler 暴露检测、构建与分块端点
type PipelineHandler struct {
	current func() *entitygraph.Pipeline
	logger  *zap.Logger
}

// NewPipelineHandler 创建处理器。current 每次请求调用一次，
// 允许服务在运行中替换 Pipeline。
func NewPipelineHandler(current func() *entitygraph.Pipeline, logger *zap.Logger) *PipelineHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PipelineHandler{
		current: current,
		logger:  logger.With(zap.String("component", "pipeline_handler")),
	}
}

// RegisterRoutes 注册路由
func (h *PipelineHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/candidates", h.HandleCandidates)
	mux.HandleFunc("POST /v1/candidates/refresh", h.HandleRefresh)
	mux.HandleFunc("GET /v1/graphs/{entity}/{uid}", h.HandleGraph)
	mux.HandleFunc("GET /v1/chunks/{entity}/{uid}", h.HandleChunks)
	mux.HandleFunc("POST /v1/chunks", h.HandleBatch)
}

// HandleCandidates 返回当前候选关系快照
func (h *PipelineHandler) HandleCandidates(w http.ResponseWriter, r *http.Request) {
	snap, err := h.current().Detect(r.Context())
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, candidatesResponse(snap))
}

// HandleRefresh 重新内省数据源
func (h *PipelineHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	snap, err := h.current().Refresh(r.Context())
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	h.logger.Info("candidates refreshed",
		zap.String("fingerprint", snap.Fingerprint),
		zap.Int("candidates", len(snap.Candidates)))
	WriteSuccess(w, r, candidatesResponse(snap))
}

// HandleGraph 构建实体图（不分块）
func (h *PipelineHandler) HandleGraph(w http.ResponseWriter, r *http.Request) {
	entity, uid := r.PathValue("entity"), r.PathValue("uid")
	ns, err := rag.Namespace(entity, uid)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	g, err := h.current().Build(r.Context(), entity, uid)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, api.GraphResponse{Namespace: ns, Partial: g.Partial, Graph: g})
}

// HandleChunks 构建实体图并返回分块
func (h *PipelineHandler) HandleChunks(w http.ResponseWriter, r *http.Request) {
	res, err := h.current().Run(r.Context(), r.PathValue("entity"), r.PathValue("uid"))
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, chunksResponse(res))
}

// HandleBatch 并发处理多个根记录，任一失败则整体失败
func (h *PipelineHandler) HandleBatch(w http.ResponseWriter, r *http.Request) {
	var req api.BatchRequest
	if err := DecodeJSONBody(r, &req); err != nil {
		WriteError(w, r, err, h.logger)
		return
	}
	if len(req.Roots) == 0 || len(req.Roots) > maxBatchRoots {
		WriteError(w, r, types.Errorf(types.ErrInvalidRequest,
			"roots must contain between 1 and %d entries, got %d", maxBatchRoots, len(req.Roots)), h.logger)
		return
	}

	roots := make([]entitygraph.Root, len(req.Roots))
	for i, rr := range req.Roots {
		roots[i] = entitygraph.Root{Entity: rr.Entity, UID: rr.UID}
	}
	results, err := h.current().RunMany(r.Context(), roots)
	if err != nil {
		WriteError(w, r, err, h.logger)
		return
	}

	resp := api.BatchResponse{Results: make([]api.ChunksResponse, len(results))}
	for i, res := range results {
		resp.Results[i] = chunksResponse(res)
	}
	WriteSuccess(w, r, resp)
}

func candidatesResponse(snap *detect.Snapshot) api.CandidatesResponse {
	cands := snap.Candidates
	if cands == nil {
		cands = []types.RelationshipCandidate{}
	}
	return api.CandidatesResponse{
		Fingerprint: snap.Fingerprint,
		Entities:    snap.Entities,
		Candidates:  cands,
		DetectedAt:  snap.DetectedAt,
	}
}

func chunksResponse(res *entitygraph.Result) api.ChunksResponse {
	return api.ChunksResponse{
		BuildID:   res.BuildID,
		Namespace: res.Namespace,
		Partial:   res.Partial(),
		Chunks:    res.Chunks,
	}
}
