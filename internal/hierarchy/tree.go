package hierarchy

import (
	"sort"

	"tails/api/internal/store"
)

// Node is a document together with its ordered children.
type Node struct {
	store.Document
	Children []*Node
}

// Build assembles a workspace's documents, in any order, into a forest.
// Siblings keep their (level, order) sequence. A document whose parent is
// absent from the input, or is itself, becomes a root. Documents caught in a
// stored parent cycle are cut loose and surfaced as roots.
func Build(documents []store.Document) []*Node {
	sorted := make([]store.Document, len(documents))
	copy(sorted, documents)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Level != sorted[j].Level {
			return sorted[i].Level < sorted[j].Level
		}
		return sorted[i].Order < sorted[j].Order
	})

	byID := make(map[string]*Node, len(sorted))
	ordered := make([]*Node, 0, len(sorted))
	for _, doc := range sorted {
		if _, dup := byID[doc.ID]; dup {
			continue
		}
		node := &Node{Document: doc, Children: []*Node{}}
		byID[doc.ID] = node
		ordered = append(ordered, node)
	}

	roots := make([]*Node, 0)
	for _, node := range ordered {
		parent := parentOf(byID, node)
		if parent == nil {
			roots = append(roots, node)
			continue
		}
		parent.Children = append(parent.Children, node)
	}

	reached := make(map[string]bool, len(ordered))
	for _, root := range roots {
		mark(root, reached)
	}
	for _, node := range ordered {
		if reached[node.ID] {
			continue
		}
		parent := parentOf(byID, node)
		parent.Children = detach(parent.Children, node)
		roots = append(roots, node)
		mark(node, reached)
	}
	return roots
}

// Flatten lists the forest in pre-order.
func Flatten(roots []*Node) []store.Document {
	out := make([]store.Document, 0)
	var walk func(nodes []*Node)
	walk = func(nodes []*Node) {
		for _, node := range nodes {
			out = append(out, node.Document)
			walk(node.Children)
		}
	}
	walk(roots)
	return out
}

func parentOf(byID map[string]*Node, node *Node) *Node {
	if node.ParentID == nil || *node.ParentID == node.ID {
		return nil
	}
	return byID[*node.ParentID]
}

func mark(node *Node, reached map[string]bool) {
	stack := []*Node{node}
	for len(stack) > 0 {
		next := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if reached[next.ID] {
			continue
		}
		reached[next.ID] = true
		stack = append(stack, next.Children...)
	}
}

func detach(children []*Node, node *Node) []*Node {
	out := children[:0]
	for _, child := range children {
		if child != node {
			out = append(out, child)
		}
	}
	return out
}
