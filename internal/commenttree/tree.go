// Package commenttree rebuilds nested comment threads from flat comment lists.
package commenttree

import (
	"sort"

	"github.com/adi-253/fellowship/internal/models"
)

// Order controls how a level of the tree is sorted by creation time.
type Order int

const (
	// Preserve keeps the input order
	Preserve Order = iota
	// Ascending puts the oldest comment first
	Ascending
	// Descending puts the newest comment first
	Descending
)

// ParseOrder maps "asc" or "oldest" to Ascending, "desc" or "newest" to
// Descending and "input" or "none" to Preserve. Any other value, including
// "", returns fallback.
func ParseOrder(s string, fallback Order) Order {
	switch s {
	case "asc", "oldest":
		return Ascending
	case "desc", "newest":
		return Descending
	case "input", "none":
		return Preserve
	default:
		return fallback
	}
}

// Options parameterizes Build.
type Options struct {
	// RootOrder sorts the root level. The zero value keeps input order;
	// DefaultOptions sorts newest first.
	RootOrder Order

	// ReplyOrder sorts every replies slice.
	ReplyOrder Order

	// MaxDepth limits nesting. Zero means unlimited. With MaxDepth 1, replies
	// to replies are flattened into the root comment's replies.
	MaxDepth int
}

// DefaultOptions returns roots newest first, replies in input order, no depth
// limit.
func DefaultOptions() Options {
	return Options{RootOrder: Descending, ReplyOrder: Preserve}
}

// Node is a comment with its direct replies.
//
// Node embeds models.Comment for encoding; it is not meant to be decoded.
type Node struct {
	models.Comment
	Replies []*Node `json:"replies"`
}

type queued struct {
	node      *Node
	depth     int
	container *Node
}

// Build links a flat list of comments into a forest.
//
// Every input comment appears exactly once in the output. A comment whose
// parent is not part of the batch is promoted to a root. When parent links
// form a cycle, the first cycle member in input order becomes a root. When
// two comments share an id, the later one wins.
func Build(comments []models.Comment, opts Options) []*Node {
	if len(comments) == 0 {
		return []*Node{}
	}

	nodes := make(map[string]*Node, len(comments))
	order := make([]string, 0, len(comments))
	for _, c := range comments {
		if _, seen := nodes[c.ID]; !seen {
			order = append(order, c.ID)
		}
		nodes[c.ID] = &Node{Comment: c, Replies: []*Node{}}
	}

	children := make(map[string][]*Node, len(nodes))
	roots := make([]*Node, 0)
	for _, id := range order {
		n := nodes[id]
		pid := n.ParentID
		if pid != "" && pid != n.ID {
			if _, ok := nodes[pid]; ok {
				children[pid] = append(children[pid], n)
				continue
			}
		}
		roots = append(roots, n)
	}

	placed := make(map[string]bool, len(nodes))
	attach := func(root *Node) {
		placed[root.ID] = true
		queue := []queued{{node: root, depth: 0}}
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			for _, child := range children[cur.node.ID] {
				if placed[child.ID] {
					continue
				}
				placed[child.ID] = true

				target, depth := cur.node, cur.depth+1
				if opts.MaxDepth > 0 && cur.depth >= opts.MaxDepth {
					target, depth = cur.container, cur.depth
				}
				target.Replies = append(target.Replies, child)
				queue = append(queue, queued{node: child, depth: depth, container: target})
			}
		}
	}

	for _, r := range roots {
		attach(r)
	}

	// Whatever is left hangs off a parent cycle.
	for _, id := range order {
		if placed[id] {
			continue
		}
		n := nodes[id]
		roots = append(roots, n)
		attach(n)
	}

	sortLevel(roots, opts.RootOrder)
	if opts.ReplyOrder != Preserve {
		var walk func([]*Node)
		walk = func(level []*Node) {
			for _, n := range level {
				sortLevel(n.Replies, opts.ReplyOrder)
				walk(n.Replies)
			}
		}
		walk(roots)
	}

	return roots
}

func sortLevel(level []*Node, o Order) {
	switch o {
	case Ascending:
		sort.SliceStable(level, func(i, j int) bool {
			return level[i].CreatedAt.Before(level[j].CreatedAt)
		})
	case Descending:
		sort.SliceStable(level, func(i, j int) bool {
			return level[i].CreatedAt.After(level[j].CreatedAt)
		})
	}
}

// Count returns the number of nodes in the forest.
func Count(forest []*Node) int {
	total := 0
	for _, n := range forest {
		total += 1 + Count(n.Replies)
	}
	return total
}
