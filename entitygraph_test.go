package entitygraph

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/entitygraph/config"
	"github.com/BaSui01/entitygraph/rag"
	"github.com/BaSui01/entitygraph/testutil"
	"github.com/BaSui01/entitygraph/testutil/fixtures"
	"github.com/BaSui01/entitygraph/testutil/mocks"
	"github.com/BaSui01/entitygraph/types"
)

func fixedID(id string) Option {
	return WithIDGenerator(func() string { return id })
}

func TestPipeline_Run(t *testing.T) {
	p, err := New(fixtures.UsersOrders(), fixedID("build-1"))
	require.NoError(t, err)

	res, err := p.Run(testutil.TestContext(t), "users", "1")
	require.NoError(t, err)

	assert.Equal(t, "build-1", res.BuildID)
	assert.Equal(t, "users:1", res.Namespace)
	assert.False(t, res.Partial())

	root := res.Graph.RootNode()
	require.NotNil(t, root)
	orders := res.Graph.Children(root, "orders")
	require.Len(t, orders, 3)
	assert.Equal(t, "101", orders[0].UID)

	require.NotEmpty(t, res.Chunks)
	assert.Equal(t, "users:1:chunk:0", res.Chunks[0].ID)
	assert.Contains(t, res.Chunks[0].Content, "=== users (ID: 1) ===")
	assert.Contains(t, res.Chunks[0].Metadata.Relations, "orders")
}

func TestPipeline_Detect(t *testing.T) {
	p, err := New(fixtures.UsersOrders())
	require.NoError(t, err)

	snap, err := p.Detect(testutil.TestContext(t))
	require.NoError(t, err)
	c := testutil.AssertHasCandidate(t, snap.Candidates, "orders", "user_id", "users")
	assert.GreaterOrEqual(t, c.Confidence, 0.7)

	again, err := p.Detect(testutil.TestContext(t))
	require.NoError(t, err)
	assert.Same(t, snap, again)

	refreshed, err := p.Refresh(testutil.TestContext(t))
	require.NoError(t, err)
	assert.Equal(t, snap.Fingerprint, refreshed.Fingerprint)

	require.NoError(t, p.Invalidate(testutil.TestContext(t)))
}

func TestPipeline_WithCandidatesSelfReference(t *testing.T) {
	p, err := New(fixtures.Employees(), WithCandidates(fixtures.EmployeesCandidates()))
	require.NoError(t, err)

	res, err := p.Run(testutil.TestContext(t), "employees", "1")
	require.NoError(t, err)

	root := res.Graph.RootNode()
	managers := res.Graph.Children(root, "manager_id")
	require.Len(t, managers, 1)
	assert.True(t, managers[0].ReferenceOnly)
	assert.Contains(t, res.Chunks[0].Content, "employees (ID: 1) - [Reference Only]")
}

func TestPipeline_Errors(t *testing.T) {
	p, err := New(fixtures.UsersOrders())
	require.NoError(t, err)
	ctx := testutil.TestContext(t)

	_, err = p.Run(ctx, "users", "999")
	testutil.AssertErrorCode(t, err, types.ErrNotFound)

	_, err = p.Run(ctx, "", "1")
	testutil.AssertErrorCode(t, err, types.ErrInvalidNamespace)

	_, err = p.Run(testutil.CancelledContext(), "users", "1")
	testutil.AssertErrorCode(t, err, types.ErrCancelled)
}

func TestNew_InvalidConfig(t *testing.T) {
	badChunking := config.DefaultChunkingConfig()
	badChunking.Overlap = badChunking.ChunkSize

	badDepth := config.DefaultBuilderConfig()
	badDepth.MaxDepth = -1

	badBuilds := config.DefaultBuilderConfig()
	badBuilds.MaxConcurrentBuilds = 0

	badThreshold := config.DefaultDetectorConfig()
	badThreshold.ConfidenceThreshold = 1.5

	tests := map[string][]Option{
		"overlap":     {WithChunkingConfig(badChunking)},
		"max depth":   {WithBuilderConfig(badDepth)},
		"concurrency": {WithBuilderConfig(badBuilds)},
		"threshold":   {WithDetectorConfig(badThreshold)},
	}
	for name, opts := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := New(fixtures.UsersOrders(), opts...)
			testutil.AssertErrorCode(t, err, types.ErrConfigInvalid)
		})
	}

	_, err := New(nil)
	testutil.AssertErrorCode(t, err, types.ErrConfigInvalid)
}

func TestPipeline_PartialOnCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := mocks.NewMockSource(fixtures.UsersOrders()).WithFetchHook(func(entity string) {
		if entity == "orders" {
			cancel()
		}
	})
	p, err := New(src, WithCandidates(fixtures.UsersOrdersCandidates()))
	require.NoError(t, err)

	res, err := p.Run(ctx, "users", "1")
	require.NoError(t, err)
	assert.True(t, res.Partial())
	require.NotEmpty(t, res.Chunks)
	assert.Equal(t, "users:1", res.Chunks[0].Namespace)
}

func TestPipeline_RunMany(t *testing.T) {
	bc := config.DefaultBuilderConfig()
	bc.MaxConcurrentBuilds = 2
	p, err := New(fixtures.UsersOrders(), WithBuilderConfig(bc))
	require.NoError(t, err)

	roots := []Root{{"users", "1"}, {"users", "2"}, {"users", "3"}, {"orders", "105"}}
	results, err := p.RunMany(testutil.TestContext(t), roots)
	require.NoError(t, err)
	require.Len(t, results, len(roots))
	for i, r := range roots {
		assert.Equal(t, r.Entity+":"+r.UID, results[i].Namespace)
	}
	assert.NotEqual(t, results[0].BuildID, results[1].BuildID)
}

func TestPipeline_RunManyFailure(t *testing.T) {
	p, err := New(fixtures.UsersOrders())
	require.NoError(t, err)

	_, err = p.RunMany(testutil.TestContext(t), []Root{{"users", "1"}, {"users", "404"}})
	testutil.AssertErrorCode(t, err, types.ErrNotFound)
}

func TestPipeline_RunAndIndex(t *testing.T) {
	cc := config.DefaultChunkingConfig()
	cc.ChunkSize = 120
	cc.Overlap = 10
	p, err := New(fixtures.UsersOrders(), WithChunkingConfig(cc))
	require.NoError(t, err)

	var buf bytes.Buffer
	res, err := p.RunAndIndex(testutil.TestContext(t), "users", "1", NewJSONLSink(&buf))
	require.NoError(t, err)
	require.Greater(t, len(res.Chunks), 1)

	var got []rag.ContextChunk
	sc := bufio.NewScanner(&buf)
	for sc.Scan() {
		var c rag.ContextChunk
		require.NoError(t, json.Unmarshal(sc.Bytes(), &c))
		got = append(got, c)
	}
	require.NoError(t, sc.Err())
	require.Len(t, got, len(res.Chunks))
	for i := range got {
		assert.Equal(t, res.Chunks[i].ID, got[i].ID)
		assert.Equal(t, res.Chunks[i].Content, got[i].Content)
	}
}

type mockSink struct {
	mock.Mock
}

func (m *mockSink) Index(ctx context.Context, namespace string, chunks []rag.ContextChunk) error {
	args := m.Called(ctx, namespace, chunks)
	return args.Error(0)
}

func TestPipeline_RunAndIndexHandsChunksToSink(t *testing.T) {
	p, err := New(fixtures.UsersOrders(), fixedID("build-7"))
	require.NoError(t, err)

	sink := new(mockSink)
	sink.On("Index", mock.Anything, "users:2", mock.MatchedBy(func(chunks []rag.ContextChunk) bool {
		return len(chunks) > 0 && chunks[0].ID == "users:2:chunk:0" && chunks[0].Namespace == "users:2"
	})).Return(nil).Once()

	res, err := p.RunAndIndex(testutil.TestContext(t), "users", "2", sink)
	require.NoError(t, err)
	assert.Equal(t, "build-7", res.BuildID)
	sink.AssertExpectations(t)
}

func TestPipeline_RunAndIndexSkipsSinkOnNotFound(t *testing.T) {
	p, err := New(fixtures.UsersOrders())
	require.NoError(t, err)

	sink := new(mockSink)
	_, err = p.RunAndIndex(testutil.TestContext(t), "users", "999", sink)
	testutil.AssertErrorCode(t, err, types.ErrNotFound)
	sink.AssertNotCalled(t, "Index", mock.Anything, mock.Anything, mock.Anything)
}

func TestPipeline_RunAndIndexSinkFailure(t *testing.T) {
	p, err := New(fixtures.UsersOrders())
	require.NoError(t, err)

	boom := errors.New("vector store down")
	res, err := p.RunAndIndex(testutil.TestContext(t), "users", "1",
		SinkFunc(func(context.Context, string, []rag.ContextChunk) error { return boom }))

	testutil.AssertErrorCode(t, err, types.ErrTransport)
	assert.ErrorIs(t, err, boom)
	require.NotNil(t, res)
	assert.NotEmpty(t, res.Chunks)
}

func TestPipeline_LogsBuildID(t *testing.T) {
	logger, logs := testutil.ObservedLogger()
	p, err := New(fixtures.UsersOrders(), WithLogger(logger), fixedID("trace-me"))
	require.NoError(t, err)

	_, err = p.Run(testutil.TestContext(t), "users", "1")
	require.NoError(t, err)

	entries := logs.FilterMessage("pipeline run completed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "trace-me", entries[0].ContextMap()["build_id"])
	assert.Equal(t, "users:1", entries[0].ContextMap()["namespace"])
}

func TestFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Source.FixturePath = "testdata/shop.yaml"

	p, closeFn, err := FromConfig(testutil.TestContextWithTimeout(t, 10*time.Second), cfg, nil)
	require.NoError(t, err)
	defer func() { assert.NoError(t, closeFn(context.Background())) }()

	assert.Equal(t, "shop", p.Source().Name())

	res, err := p.Run(testutil.TestContext(t), "users", "1")
	require.NoError(t, err)
	assert.Len(t, res.Graph.Children(res.Graph.RootNode(), "orders"), 3)
	assert.True(t, res.Chunks[0].Metadata.Timestamp.Equal(time.Date(2024, 1, 15, 8, 0, 0, 0, time.UTC)))
}

func TestFromConfig_ShopSelfReference(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Source.FixturePath = "testdata/shop.yaml"

	p, closeFn, err := FromConfig(testutil.TestContextWithTimeout(t, 10*time.Second), cfg, nil)
	require.NoError(t, err)
	defer func() { assert.NoError(t, closeFn(context.Background())) }()

	g, err := p.Build(testutil.TestContext(t), "employees", "4")
	require.NoError(t, err)

	// users 与 employees 的主键都覆盖 manager_id，自引用排在最前
	root := g.RootNode()
	managers := g.Children(root, "manager_id")
	require.Len(t, managers, 1)
	assert.Equal(t, "employees", managers[0].Entity)
	assert.Equal(t, "2", managers[0].UID)

	for _, rel := range root.Relations {
		assert.NotEqual(t, "order_items", rel.Name, "quantity is not a foreign key")
	}
}

func TestFromConfig_DeclaredRelationships(t *testing.T) {
	path := filepath.Join(t.TempDir(), "helpdesk.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: helpdesk
tables:
  - name: accounts
    rows:
      - {id: a1, name: Acme}
      - {id: a2, name: Globex}
  - name: tickets
    rows:
      - {id: 1, owner: a1}
      - {id: 2, owner: a1}
      - {id: 3, owner: a1}
      - {id: 4, owner: a1}
      - {id: 5, owner: a1}
      - {id: 6, owner: a2}
`), 0o644))

	cfg := config.DefaultConfig()
	cfg.Source.FixturePath = path

	p, closeFn, err := FromConfig(testutil.TestContext(t), cfg, nil)
	require.NoError(t, err)
	res, err := p.Run(testutil.TestContext(t), "accounts", "a1")
	require.NoError(t, err)
	assert.Empty(t, res.Graph.Children(res.Graph.RootNode(), "tickets"))
	require.NoError(t, closeFn(context.Background()))

	cfg.Relationships = []config.RelationshipConfig{
		{Entity: "tickets", FieldName: "owner", TargetEntity: "accounts"},
	}
	p, closeFn, err = FromConfig(testutil.TestContext(t), cfg, nil)
	require.NoError(t, err)
	defer func() { assert.NoError(t, closeFn(context.Background())) }()

	res, err = p.Run(testutil.TestContext(t), "accounts", "a1")
	require.NoError(t, err)
	assert.Len(t, res.Graph.Children(res.Graph.RootNode(), "tickets"), 5)

	snap, err := p.Detect(testutil.TestContext(t))
	require.NoError(t, err)
	c := testutil.AssertHasCandidate(t, snap.Candidates, "tickets", "owner", "accounts")
	assert.Equal(t, types.DetectionDeclared, c.Method)
}

func TestFromConfig_Invalid(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Chunking.Overlap = cfg.Chunking.ChunkSize
	_, _, err := FromConfig(context.Background(), cfg, nil)
	testutil.AssertErrorCode(t, err, types.ErrConfigInvalid)

	cfg = config.DefaultConfig()
	cfg.Source.FixturePath = "testdata/missing.yaml"
	_, _, err = FromConfig(context.Background(), cfg, nil)
	testutil.AssertErrorCode(t, err, types.ErrConfigInvalid)
}
