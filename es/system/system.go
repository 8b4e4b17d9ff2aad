// Package system wires applications into processing pipelines and runs
// them. A system is a static graph: pipes of applications where each
// follower processes the notification log of the node before it.
package system

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/getpup/pupflow/es/notificationlog"
)

var (
	// ErrEmptyPipe indicates a pipe with fewer than one node.
	ErrEmptyPipe = errors.New("empty pipe")

	// ErrNotAFollower indicates a node placed downstream in a pipe that
	// cannot follow anything.
	ErrNotAFollower = errors.New("node cannot follow")

	// ErrNameConflict indicates two different nodes sharing one name.
	ErrNameConflict = errors.New("node name conflict")
)

// Node is any application that can appear in a pipe. Both plain and
// process applications qualify.
type Node interface {
	Name() string
	NotificationLog() *notificationlog.Log
	Subscribe(fn func())
}

// Follower is a node that can process an upstream's notifications.
// Process applications implement it.
type Follower interface {
	Node
	Follow(upstreamName string, log *notificationlog.Log)
	PullAndProcess(ctx context.Context, upstreamName string) (int, error)
}

// Edge is one leader/follower connection of the graph.
type Edge struct {
	UpstreamName string
	FollowerName string
}

// System is the static graph of a set of pipes.
type System struct {
	nodes map[string]Node
	edges []Edge
}

// New builds a system from pipes. In a pipe [a, b, c], b follows a and c
// follows b; every node after the first must be a Follower. A node may
// appear in several pipes; duplicate edges collapse.
func New(pipes ...[]Node) (*System, error) {
	s := &System{nodes: make(map[string]Node)}
	seen := make(map[Edge]bool)

	for _, pipe := range pipes {
		if len(pipe) == 0 {
			return nil, ErrEmptyPipe
		}
		for i, node := range pipe {
			if existing, ok := s.nodes[node.Name()]; ok && existing != node {
				return nil, fmt.Errorf("%w: %q", ErrNameConflict, node.Name())
			}
			s.nodes[node.Name()] = node

			if i == 0 {
				continue
			}
			if _, ok := node.(Follower); !ok {
				return nil, fmt.Errorf("%w: %q", ErrNotAFollower, node.Name())
			}
			edge := Edge{UpstreamName: pipe[i-1].Name(), FollowerName: node.Name()}
			if !seen[edge] {
				seen[edge] = true
				s.edges = append(s.edges, edge)
			}
		}
	}
	return s, nil
}

// Node returns the named node, or nil.
func (s *System) Node(name string) Node {
	return s.nodes[name]
}

// Nodes lists all node names in deterministic order.
func (s *System) Nodes() []string {
	names := make([]string, 0, len(s.nodes))
	for name := range s.nodes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Edges lists the graph's leader/follower connections in pipe order.
func (s *System) Edges() []Edge {
	out := make([]Edge, len(s.edges))
	copy(out, s.edges)
	return out
}

// Connect points every follower at its upstream's notification log.
// Runners call it once before processing starts; calling it again is
// harmless.
func (s *System) Connect() {
	for _, edge := range s.edges {
		upstream := s.nodes[edge.UpstreamName]
		follower := s.nodes[edge.FollowerName].(Follower)
		follower.Follow(upstream.Name(), upstream.NotificationLog())
	}
}
