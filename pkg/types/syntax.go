package types

// NodeID indexes a node inside a SyntaxTree.
type NodeID int32

// NoNode marks the absence of a parent.
const NoNode NodeID = -1

type NodeKind int

const (
	ModuleNode NodeKind = iota
	ProcedureNode
	StatementNode
	VariableNode
	MemberAccessExprNode
	IdentifierNode
)

// String returns the string representation of a NodeKind
func (k NodeKind) String() string {
	switch k {
	case ModuleNode:
		return "Module"
	case ProcedureNode:
		return "Procedure"
	case StatementNode:
		return "Statement"
	case VariableNode:
		return "Variable"
	case MemberAccessExprNode:
		return "MemberAccessExpr"
	case IdentifierNode:
		return "Identifier"
	default:
		return "Unknown"
	}
}

// Node is one entry of the syntax arena.
type Node struct {
	Kind      NodeKind
	Parent    NodeID
	Selection Selection
}

// SyntaxTree stores a module's syntax nodes in a flat arena. Parents are
// referenced by index, so walking upward never chases pointers.
type SyntaxTree struct {
	Module QualifiedModuleName
	Nodes  []Node
}

func NewSyntaxTree(module QualifiedModuleName) *SyntaxTree {
	return &SyntaxTree{Module: module}
}

// Add appends a node and returns its id.
func (t *SyntaxTree) Add(kind NodeKind, parent NodeID, sel Selection) NodeID {
	t.Nodes = append(t.Nodes, Node{Kind: kind, Parent: parent, Selection: sel})
	return NodeID(len(t.Nodes) - 1)
}

// Node returns the node with the given id.
func (t *SyntaxTree) Node(id NodeID) (Node, bool) {
	if t == nil || id < 0 || int(id) >= len(t.Nodes) {
		return Node{}, false
	}
	return t.Nodes[id], true
}

// SetSelection updates a node's range once its end is known.
func (t *SyntaxTree) SetSelection(id NodeID, sel Selection) {
	if id >= 0 && int(id) < len(t.Nodes) {
		t.Nodes[id].Selection = sel
	}
}

// SetParent re-parents a node. Member access nodes are created after their
// qualifier, so the qualifier is attached to them afterwards.
func (t *SyntaxTree) SetParent(id, parent NodeID) {
	if id >= 0 && int(id) < len(t.Nodes) {
		t.Nodes[id].Parent = parent
	}
}

// Enclosing walks the parent chain of id, not including id itself, and
// returns the first ancestor of the given kind.
func (t *SyntaxTree) Enclosing(id NodeID, kind NodeKind) (NodeID, bool) {
	node, ok := t.Node(id)
	if !ok {
		return NoNode, false
	}
	for p := node.Parent; p != NoNode; {
		parent, ok := t.Node(p)
		if !ok {
			return NoNode, false
		}
		if parent.Kind == kind {
			return p, true
		}
		p = parent.Parent
	}
	return NoNode, false
}

// Children returns the direct children of id in source order.
func (t *SyntaxTree) Children(id NodeID) []NodeID {
	var out []NodeID
	for i, n := range t.Nodes {
		if n.Parent == id {
			out = append(out, NodeID(i))
		}
	}
	return out
}
