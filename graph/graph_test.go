package graph

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/ragchat/core"
)

type testState struct {
	route string
	trail []string
}

func record(name string) Handler[*testState] {
	return func(_ context.Context, s *testState) error {
		s.trail = append(s.trail, name)
		return nil
	}
}

func branching() *Graph[*testState] {
	return New[*testState]("test").
		AddNode("reflect", record("reflect")).
		AddNode("chat", record("chat")).
		AddNode("retrieve", record("retrieve")).
		AddNode("done", record("done")).
		SetEntry("reflect").
		AddConditionalEdge("reflect", func(s *testState) string { return s.route }, "chat", "retrieve").
		AddEdge("chat", "done").
		AddEdge("retrieve", "done").
		AddEdge("done", End)
}

func TestRun_FollowsCondition(t *testing.T) {
	g := branching()
	require.NoError(t, g.Validate())

	tests := []struct {
		route string
		want  []string
	}{
		{"chat", []string{"reflect", "chat", "done"}},
		{"retrieve", []string{"reflect", "retrieve", "done"}},
	}
	for _, tt := range tests {
		t.Run(tt.route, func(t *testing.T) {
			s := &testState{route: tt.route}
			path, err := g.Run(context.Background(), s, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, path)
			assert.Equal(t, tt.want, s.trail)
		})
	}
}

func TestRun_InvalidTransition(t *testing.T) {
	g := branching()
	_, err := g.Run(context.Background(), &testState{route: "nowhere"}, nil)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	var nodeErr *NodeError
	require.True(t, errors.As(err, &nodeErr))
	assert.Equal(t, "reflect", nodeErr.Node)
}

func TestRun_NodeErrorStops(t *testing.T) {
	boom := errors.New("boom")
	g := New[*testState]("test").
		AddNode("a", record("a")).
		AddNode("b", func(context.Context, *testState) error { return boom }).
		AddNode("c", record("c")).
		SetEntry("a").
		AddEdge("a", "b").
		AddEdge("b", "c").
		AddEdge("c", End)
	require.NoError(t, g.Validate())

	s := &testState{}
	path, err := g.Run(context.Background(), s, nil)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"a", "b"}, path)
	assert.Equal(t, []string{"a"}, s.trail)
}

func TestRun_CancellationCheckedAtNodeEntry(t *testing.T) {
	ctx, cancel := context.WithCancelCause(context.Background())
	g := New[*testState]("test").
		AddNode("a", func(_ context.Context, s *testState) error {
			s.trail = append(s.trail, "a")
			cancel(core.ErrCancelled)
			return nil
		}).
		AddNode("b", record("b")).
		SetEntry("a").
		AddEdge("a", "b").
		AddEdge("b", End)

	s := &testState{}
	path, err := g.Run(ctx, s, nil)
	assert.ErrorIs(t, err, core.ErrCancelled)
	assert.Equal(t, []string{"a"}, path)
	assert.Equal(t, []string{"a"}, s.trail)

	var nodeErr *NodeError
	require.True(t, errors.As(err, &nodeErr))
	assert.Equal(t, "b", nodeErr.Node)
}

func TestRun_PlainCancelAndDeadline(t *testing.T) {
	g := branching()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := g.Run(ctx, &testState{route: "chat"}, nil)
	assert.ErrorIs(t, err, core.ErrCancelled)

	ctx, cancel = context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	_, err = g.Run(ctx, &testState{route: "chat"}, nil)
	assert.ErrorIs(t, err, core.ErrTimeout)
}

type recordingHooks struct {
	mu       sync.Mutex
	started  []string
	finished []string
	errs     []error
}

func (h *recordingHooks) NodeStarted(_ context.Context, node string, _ *testState) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.started = append(h.started, node)
}

func (h *recordingHooks) NodeFinished(_ context.Context, node string, _ *testState, elapsed time.Duration, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.finished = append(h.finished, node)
	h.errs = append(h.errs, err)
}

func TestRun_Hooks(t *testing.T) {
	hooks := &recordingHooks{}
	_, err := branching().Run(context.Background(), &testState{route: "chat"}, hooks)
	require.NoError(t, err)
	assert.Equal(t, []string{"reflect", "chat", "done"}, hooks.started)
	assert.Equal(t, hooks.started, hooks.finished)
	for _, e := range hooks.errs {
		assert.NoError(t, e)
	}
}

func TestValidate(t *testing.T) {
	noop := record("x")
	tests := []struct {
		name  string
		build func() *Graph[*testState]
		want  error
	}{
		{
			name:  "no entry",
			build: func() *Graph[*testState] { return New[*testState]("g").AddNode("a", noop).AddEdge("a", End) },
			want:  ErrNoEntry,
		},
		{
			name: "unknown entry",
			build: func() *Graph[*testState] {
				return New[*testState]("g").AddNode("a", noop).AddEdge("a", End).SetEntry("zz")
			},
			want: ErrNodeNotFound,
		},
		{
			name: "unknown target",
			build: func() *Graph[*testState] {
				return New[*testState]("g").AddNode("a", noop).AddEdge("a", "zz").SetEntry("a")
			},
			want: ErrNodeNotFound,
		},
		{
			name: "unknown conditional target",
			build: func() *Graph[*testState] {
				return New[*testState]("g").AddNode("a", noop).
					AddConditionalEdge("a", func(*testState) string { return End }, End, "zz").SetEntry("a")
			},
			want: ErrNodeNotFound,
		},
		{
			name: "duplicate node",
			build: func() *Graph[*testState] {
				return New[*testState]("g").AddNode("a", noop).AddNode("a", noop).AddEdge("a", End).SetEntry("a")
			},
			want: ErrDuplicateNode,
		},
		{
			name: "two outgoing rules",
			build: func() *Graph[*testState] {
				return New[*testState]("g").AddNode("a", noop).AddEdge("a", End).AddEdge("a", End).SetEntry("a")
			},
			want: ErrConflictingEdges,
		},
		{
			name: "missing transition",
			build: func() *Graph[*testState] {
				return New[*testState]("g").AddNode("a", noop).SetEntry("a")
			},
			want: ErrMissingTransition,
		},
		{
			name: "cycle",
			build: func() *Graph[*testState] {
				return New[*testState]("g").
					AddNode("a", noop).AddNode("b", noop).AddNode("c", noop).
					AddEdge("a", "b").
					AddConditionalEdge("b", func(*testState) string { return "c" }, "c", End).
					AddEdge("c", "a").
					SetEntry("a")
			},
			want: ErrCycle,
		},
		{
			name: "unreachable",
			build: func() *Graph[*testState] {
				return New[*testState]("g").
					AddNode("a", noop).AddNode("orphan", noop).
					AddEdge("a", End).AddEdge("orphan", End).
					SetEntry("a")
			},
			want: ErrUnreachableNode,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.build().Validate(), tt.want)
		})
	}
}

func TestDescribe(t *testing.T) {
	out := branching().Describe()
	assert.Contains(t, out, "entry: reflect")
	assert.Contains(t, out, "reflect -> {chat, retrieve}")
	assert.Contains(t, out, "done -> __end__")
}
