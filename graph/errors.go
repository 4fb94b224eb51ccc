package graph

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNodeNotFound is returned when an edge or the entry names an unknown node.
	ErrNodeNotFound = errors.New("node not found")

	// ErrDuplicateNode is returned when a node name is registered twice.
	ErrDuplicateNode = errors.New("duplicate node")

	// ErrNoEntry is returned when no entry node is set.
	ErrNoEntry = errors.New("entry node not set")

	// ErrConflictingEdges is returned when a node gets more than one outgoing rule.
	ErrConflictingEdges = errors.New("node already has an outgoing edge")

	// ErrMissingTransition is returned when a node has no outgoing edge.
	ErrMissingTransition = errors.New("node has no outgoing edge")

	// ErrInvalidTransition is returned when a condition picks an undeclared target.
	ErrInvalidTransition = errors.New("condition returned an undeclared target")

	// ErrUnreachableNode is returned when a node cannot be reached from the entry.
	ErrUnreachableNode = errors.New("node unreachable from entry")

	// ErrCycle is returned when the edges form a cycle.
	ErrCycle = errors.New("graph contains a cycle")
)

// NodeError ties an error to the node that produced it.
type NodeError struct {
	Node string
	Err  error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("node %s: %v", e.Node, e.Err)
}

func (e *NodeError) Unwrap() error {
	return e.Err
}

func cycleError(path []string) error {
	return fmt.Errorf("%w: %s", ErrCycle, strings.Join(path, " -> "))
}
