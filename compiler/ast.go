package compiler

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// AST: struct-of-records tree with stable node ids
// ---------------------------------------------------------------------------

// NodeKind classifies AST nodes.
type NodeKind int

const (
	NodeRoot NodeKind = iota

	// Declarations
	NodeRule
	NodeImport
	NodeInclude
	NodeIngress

	// Sections
	NodeTarget
	NodeInput
	NodeMatch
	NodeCondition
	NodeFields

	// Accessors
	NodeAlias
	NodeEvent
	NodeMember
	NodeCall

	// Comparisons
	NodeRegMatch
	NodeEquality
	NodeLesser
	NodeGreater

	// Logic
	NodeNot
	NodeAnd
	NodeOr

	// Arithmetic
	NodeAddition
	NodeSubtract
	NodeMultiply
	NodeDivide

	NodeName
	NodePath
	NodeField // field declaration: name token, followed by its type token

	// Literals
	NodeRegexp
	NodeLong
	NodeString
	NodeFalse
	NodeTrue

	nodeKindCount
)

var nodeKindNames = [...]string{
	NodeRoot:      "root",
	NodeRule:      "rule",
	NodeImport:    "import",
	NodeInclude:   "include",
	NodeIngress:   "ingress",
	NodeTarget:    "target",
	NodeInput:     "input",
	NodeMatch:     "match",
	NodeCondition: "condition",
	NodeFields:    "fields",
	NodeAlias:     "alias",
	NodeEvent:     "event",
	NodeMember:    "member",
	NodeCall:      "call",
	NodeRegMatch:  "regmatch",
	NodeEquality:  "equality",
	NodeLesser:    "lesser",
	NodeGreater:   "greater",
	NodeNot:       "not",
	NodeAnd:       "and",
	NodeOr:        "or",
	NodeAddition:  "addition",
	NodeSubtract:  "subtract",
	NodeMultiply:  "multiply",
	NodeDivide:    "divide",
	NodeName:      "name",
	NodePath:      "path",
	NodeField:     "field",
	NodeRegexp:    "regexp",
	NodeLong:      "long",
	NodeString:    "string",
	NodeFalse:     "false",
	NodeTrue:      "true",
}

func (k NodeKind) String() string {
	if k >= 0 && int(k) < len(nodeKindNames) {
		return nodeKindNames[k]
	}
	return fmt.Sprintf("node(%d)", int(k))
}

// Node is one AST record. Token indexes the token stream the tree was
// parsed from; Children are node ids in source order.
type Node struct {
	Kind     NodeKind
	Token    int
	Children []int
}

// Tree is a parsed rule file. Node 0 is the root.
type Tree struct {
	Nodes []Node
}

// Add appends a node and returns its id.
func (t *Tree) Add(kind NodeKind, token int, children ...int) int {
	t.Nodes = append(t.Nodes, Node{Kind: kind, Token: token, Children: children})
	return len(t.Nodes) - 1
}

// AddChild appends child to parent's children.
func (t *Tree) AddChild(parent, child int) {
	t.Nodes[parent].Children = append(t.Nodes[parent].Children, child)
}

// Dump renders the tree as an indented outline, one node per line.
func (t *Tree) Dump(tokens []Token) string {
	if len(t.Nodes) == 0 {
		return ""
	}
	var sb strings.Builder
	var walk func(id, depth int)
	walk = func(id, depth int) {
		n := t.Nodes[id]
		sb.WriteString(strings.Repeat("  ", depth))
		sb.WriteString(n.Kind.String())
		if n.Kind != NodeRoot && n.Token >= 0 && n.Token < len(tokens) {
			if lexeme := tokens[n.Token].Lexeme; lexeme != n.Kind.String() {
				fmt.Fprintf(&sb, " %s", lexeme)
			}
		}
		sb.WriteByte('\n')
		for _, c := range n.Children {
			walk(c, depth+1)
		}
	}
	walk(0, 0)
	return sb.String()
}
