// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package graph runs pipelines described as data: a table of named node
// handlers and a table of transitions, executed by a small interpreter.
//
// Every node has exactly one outgoing rule, either a fixed edge or a
// condition choosing among declared targets. Graphs must be acyclic and
// every node must be reachable from the entry. Run checks the context at
// each node entry, so a cancelled task stops before the next node starts.
package graph

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/poiesic/ragchat/core"
)

// End is the implicit terminal target.
const End = "__end__"

var tracer = otel.Tracer("ragchat.graph")

// Handler executes one node against the shared state.
type Handler[S any] func(ctx context.Context, state S) error

// Condition picks the next node from the state.
type Condition[S any] func(state S) string

// Hooks observes node execution.
type Hooks[S any] interface {
	NodeStarted(ctx context.Context, node string, state S)
	NodeFinished(ctx context.Context, node string, state S, elapsed time.Duration, err error)
}

type branch[S any] struct {
	cond    Condition[S]
	targets []string
}

// Graph is a directed acyclic pipeline over state S.
// Build it once, then Run it concurrently for independent states.
type Graph[S any] struct {
	name     string
	nodes    map[string]Handler[S]
	order    []string
	edges    map[string]string
	branches map[string]branch[S]
	entry    string
	errors   []error
}

// New creates an empty graph.
func New[S any](name string) *Graph[S] {
	return &Graph[S]{
		name:     name,
		nodes:    make(map[string]Handler[S]),
		edges:    make(map[string]string),
		branches: make(map[string]branch[S]),
	}
}

// Name returns the graph name.
func (g *Graph[S]) Name() string {
	return g.name
}

// AddNode registers a handler under name.
func (g *Graph[S]) AddNode(name string, h Handler[S]) *Graph[S] {
	if _, ok := g.nodes[name]; ok || name == End {
		g.errors = append(g.errors, &NodeError{Node: name, Err: ErrDuplicateNode})
		return g
	}
	g.nodes[name] = h
	g.order = append(g.order, name)
	return g
}

// AddEdge adds an unconditional transition. Use End as to for terminal nodes.
func (g *Graph[S]) AddEdge(from, to string) *Graph[S] {
	if g.hasOutgoing(from) {
		g.errors = append(g.errors, &NodeError{Node: from, Err: ErrConflictingEdges})
		return g
	}
	g.edges[from] = to
	return g
}

// AddConditionalEdge makes cond choose the successor of from among targets.
func (g *Graph[S]) AddConditionalEdge(from string, cond Condition[S], targets ...string) *Graph[S] {
	if g.hasOutgoing(from) {
		g.errors = append(g.errors, &NodeError{Node: from, Err: ErrConflictingEdges})
		return g
	}
	g.branches[from] = branch[S]{cond: cond, targets: targets}
	return g
}

// SetEntry sets the first node.
func (g *Graph[S]) SetEntry(name string) *Graph[S] {
	g.entry = name
	return g
}

func (g *Graph[S]) hasOutgoing(node string) bool {
	_, edge := g.edges[node]
	_, cond := g.branches[node]
	return edge || cond
}

func (g *Graph[S]) successors(node string) []string {
	if to, ok := g.edges[node]; ok {
		return []string{to}
	}
	return g.branches[node].targets
}

// Validate checks that the graph is runnable.
func (g *Graph[S]) Validate() error {
	if len(g.errors) > 0 {
		return g.errors[0]
	}
	if g.entry == "" {
		return ErrNoEntry
	}
	if _, ok := g.nodes[g.entry]; !ok {
		return &NodeError{Node: g.entry, Err: ErrNodeNotFound}
	}
	for _, name := range g.order {
		if !g.hasOutgoing(name) {
			return &NodeError{Node: name, Err: ErrMissingTransition}
		}
	}
	for from := range g.edges {
		if _, ok := g.nodes[from]; !ok {
			return &NodeError{Node: from, Err: ErrNodeNotFound}
		}
	}
	for from := range g.branches {
		if _, ok := g.nodes[from]; !ok {
			return &NodeError{Node: from, Err: ErrNodeNotFound}
		}
	}
	for _, name := range g.order {
		for _, to := range g.successors(name) {
			if _, ok := g.nodes[to]; !ok && to != End {
				return &NodeError{Node: to, Err: ErrNodeNotFound}
			}
		}
	}
	if err := g.detectCycles(); err != nil {
		return err
	}

	reached := map[string]bool{g.entry: true}
	stack := []string{g.entry}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, to := range g.successors(node) {
			if to != End && !reached[to] {
				reached[to] = true
				stack = append(stack, to)
			}
		}
	}
	for _, name := range g.order {
		if !reached[name] {
			return &NodeError{Node: name, Err: ErrUnreachableNode}
		}
	}
	return nil
}

func (g *Graph[S]) detectCycles() error {
	visited := make(map[string]bool)
	onPath := make(map[string]bool)
	var path []string

	var dfs func(node string) error
	dfs = func(node string) error {
		visited[node] = true
		onPath[node] = true
		path = append(path, node)
		for _, to := range g.successors(node) {
			if to == End {
				continue
			}
			if onPath[to] {
				start := slices.Index(path, to)
				return cycleError(append(slices.Clone(path[start:]), to))
			}
			if !visited[to] {
				if err := dfs(to); err != nil {
					return err
				}
			}
		}
		path = path[:len(path)-1]
		onPath[node] = false
		return nil
	}

	for _, name := range g.order {
		if !visited[name] {
			if err := dfs(name); err != nil {
				return err
			}
		}
	}
	return nil
}

// Run executes the graph from the entry until End and returns the visited
// nodes in order. A node error stops the run and is returned as *NodeError.
// hooks may be nil.
func (g *Graph[S]) Run(ctx context.Context, state S, hooks Hooks[S]) ([]string, error) {
	ctx, span := tracer.Start(ctx, "graph."+g.name,
		trace.WithAttributes(attribute.String("graph.name", g.name)))
	defer span.End()

	var path []string
	node := g.entry
	for node != End {
		if err := interrupted(ctx); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return path, &NodeError{Node: node, Err: err}
		}
		handler, ok := g.nodes[node]
		if !ok {
			return path, &NodeError{Node: node, Err: ErrNodeNotFound}
		}

		path = append(path, node)
		if err := g.runNode(ctx, node, handler, state, hooks); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return path, &NodeError{Node: node, Err: err}
		}

		next, err := g.next(node, state)
		if err != nil {
			return path, &NodeError{Node: node, Err: err}
		}
		node = next
	}
	span.SetAttributes(attribute.String("graph.path", strings.Join(path, ",")))
	span.SetStatus(codes.Ok, "")
	return path, nil
}

func (g *Graph[S]) runNode(ctx context.Context, node string, handler Handler[S], state S, hooks Hooks[S]) error {
	ctx, span := tracer.Start(ctx, node, trace.WithAttributes(
		attribute.String("graph.name", g.name),
		attribute.String("graph.node", node),
	))
	defer span.End()

	if hooks != nil {
		hooks.NodeStarted(ctx, node, state)
	}
	start := time.Now()
	err := handler(ctx, state)
	if hooks != nil {
		hooks.NodeFinished(ctx, node, state, time.Since(start), err)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

func (g *Graph[S]) next(node string, state S) (string, error) {
	if to, ok := g.edges[node]; ok {
		return to, nil
	}
	b := g.branches[node]
	to := b.cond(state)
	if !slices.Contains(b.targets, to) {
		return "", fmt.Errorf("%w: %q", ErrInvalidTransition, to)
	}
	return to, nil
}

// interrupted maps a done context onto the task error taxonomy.
func interrupted(ctx context.Context) error {
	if ctx.Err() == nil {
		return nil
	}
	cause := context.Cause(ctx)
	switch {
	case errors.Is(cause, core.ErrCancelled):
		return cause
	case errors.Is(cause, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", core.ErrTimeout, cause)
	default:
		return fmt.Errorf("%w: %w", core.ErrCancelled, cause)
	}
}

// Describe lists the transitions, one per line, in registration order.
func (g *Graph[S]) Describe() string {
	var b strings.Builder
	fmt.Fprintf(&b, "entry: %s\n", g.entry)
	for _, name := range g.order {
		if to, ok := g.edges[name]; ok {
			fmt.Fprintf(&b, "%s -> %s\n", name, to)
			continue
		}
		if br, ok := g.branches[name]; ok {
			fmt.Fprintf(&b, "%s -> {%s}\n", name, strings.Join(br.targets, ", "))
		}
	}
	return b.String()
}
