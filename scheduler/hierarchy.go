package scheduler

import (
	"strconv"
)

// =============================================================================
// 🌳 Hierarchy: 递归自相似的节点树
// =============================================================================

// Role 节点角色的标签变体：Leaf 或 Branch
type Role interface {
	isRole()
	Kind() string
}

// Leaf 叶子 worker，直接调用模型计算梯度
type Leaf struct{}

// Branch 控制节点，拥有子节点；非根 Branch 同时是父组中的 worker
type Branch struct {
	Children []*Node
}

func (Leaf) isRole()   {}
func (Branch) isRole() {}

func (Leaf) Kind() string   { return "leaf" }
func (Branch) Kind() string { return "branch" }

// Node 层次树中的一个位置，一个节点对应一个常驻协程
type Node struct {
	ID int
	// Path 形如 "0"、"0.3"、"0.3.1"
	Path  string
	Level int
	// Index 在父组中的位置，即父组缓冲的段号
	Index int
	// ParentID 只是弱引用，根节点为 -1
	ParentID int
	Role     Role

	state WorkerState
}

// State exposes the node's published state.
func (n *Node) State() *WorkerState { return &n.state }

// IsRoot reports whether the node is the top-level control.
func (n *Node) IsRoot() bool { return n.ParentID < 0 }

// Children returns the owned children of a branch, nil for leaves.
func (n *Node) Children() []*Node {
	if b, ok := n.Role.(Branch); ok {
		return b.Children
	}
	return nil
}

// Walk visits n and its descendants in pre-order.
func (n *Node) Walk(fn func(*Node)) {
	fn(n)
	for _, c := range n.Children() {
		c.Walk(fn)
	}
}

// Depth 返回控制层数（仅含叶子的根为 1）
func (n *Node) Depth() int {
	children := n.Children()
	if children == nil {
		return 0
	}
	depth := 0
	for _, c := range children {
		if d := c.Depth(); d > depth {
			depth = d
		}
	}
	return depth + 1
}

// LeafCount returns the number of compute workers under n.
func (n *Node) LeafCount() int {
	children := n.Children()
	if children == nil {
		return 1
	}
	total := 0
	for _, c := range children {
		total += c.LeafCount()
	}
	return total
}

// BuildHierarchy 以扇出 fanout 把 workers 个叶子组织成树。
//
// workers <= fanout 时为单层；否则根拥有 fanout 个子节点，叶子数尽量均分，
// 每个子节点递归构建。只含一个叶子的子树直接退化为 Leaf。
// 控制层数超过 maxDepth 时 panic(*StructuralError)。
func BuildHierarchy(workers, fanout, maxDepth int) *Node {
	if workers < 1 {
		structuralf("worker count must be >= 1, got %d", workers)
	}
	if fanout < 1 {
		structuralf("fanout must be >= 1, got %d", fanout)
	}
	if maxDepth < 1 {
		structuralf("max hierarchy depth must be >= 1, got %d", maxDepth)
	}
	if fanout == 1 && workers > 1 {
		structuralf("fanout 1 cannot host %d workers", workers)
	}

	b := &hierarchyBuilder{fanout: fanout, maxDepth: maxDepth}
	root := b.branch(workers, 1, -1, 0, "0", 0)
	if got := root.LeafCount(); got != workers {
		structuralf("hierarchy holds %d leaves, want %d", got, workers)
	}
	return root
}

type hierarchyBuilder struct {
	fanout   int
	maxDepth int
	nextID   int
}

func (b *hierarchyBuilder) id() int {
	id := b.nextID
	b.nextID++
	return id
}

func (b *hierarchyBuilder) branch(leaves, depth, parentID, index int, path string, level int) *Node {
	if depth > b.maxDepth {
		structuralf("hierarchy depth %d exceeds max %d", depth, b.maxDepth)
	}
	n := &Node{ID: b.id(), Path: path, Level: level, Index: index, ParentID: parentID}

	groups := leaves
	if groups > b.fanout {
		groups = b.fanout
	}
	children := make([]*Node, 0, groups)
	for i, size := range splitEven(leaves, groups) {
		childPath := path + "." + strconv.Itoa(i)
		if size == 1 {
			children = append(children, &Node{
				ID:       b.id(),
				Path:     childPath,
				Level:    level + 1,
				Index:    i,
				ParentID: n.ID,
				Role:     Leaf{},
			})
			continue
		}
		children = append(children, b.branch(size, depth+1, n.ID, i, childPath, level+1))
	}
	n.Role = Branch{Children: children}
	return n
}

// splitEven 把 n 分成 k 份，份额相差不超过 1
func splitEven(n, k int) []int {
	out := make([]int, k)
	for i := range out {
		out[i] = n / k
		if i < n%k {
			out[i]++
		}
	}
	return out
}
