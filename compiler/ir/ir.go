// Package ir declares the typed intermediate representation produced by
// semantic analysis.  Every node carries the resolved static type of the
// collection it evaluates to; backpointers into the syntax tree keep error
// reporting anchored to source positions.
package ir

import (
	"github.com/carequery/fhirpath"
	"github.com/carequery/fhirpath/compiler/ast"
)

type Node interface {
	Type() fhirpath.Type
	irNode()
}

// The type definitions of all entities that implement the Node interface.
type (
	// Root is the record the expression is evaluated against.
	Root struct {
		Typ fhirpath.Type
	}
	// Reference is the $this binding inside a criteria argument.
	Reference struct {
		AST ast.Expr
		Typ fhirpath.Type
	}
	// Literal is a constant, folded at analysis time.  The empty
	// collection literal has the Empty type and a zero Value.
	Literal struct {
		AST   ast.Expr
		Value fhirpath.Value
		Typ   fhirpath.Type
	}
	// Property is schema-resolved member access.  Name is the element
	// name as written; when Choice is set the element is polymorphic
	// and the concrete field is selected downstream by OfType.
	Property struct {
		AST     ast.Expr
		Operand Node
		Name    string
		Choice  bool
		Typ     fhirpath.Type
	}
	Indexer struct {
		AST     ast.Expr
		Operand Node
		Index   Node
		Typ     fhirpath.Type
	}
	Polarity struct {
		AST     ast.Expr
		Op      string // "-" or "+"
		Operand Node
		Typ     fhirpath.Type
	}
	// Arithmetic covers +, -, *, /, div, mod, and string concatenation
	// with &, which shares this node family.
	Arithmetic struct {
		AST ast.Expr
		Op  string
		LHS Node
		RHS Node
		Typ fhirpath.Type
	}
	Equality struct {
		AST ast.Expr
		Op  string // "=", "~", "!=", "!~"
		LHS Node
		RHS Node
		Typ fhirpath.Type
	}
	Comparison struct {
		AST ast.Expr
		Op  string // "<", "<=", ">", ">="
		LHS Node
		RHS Node
		Typ fhirpath.Type
	}
	BooleanOp struct {
		AST ast.Expr
		Op  string // "and", "or", "xor", "implies"
		LHS Node
		RHS Node
		Typ fhirpath.Type
	}
	Membership struct {
		AST ast.Expr
		Op  string // "in", "contains"
		LHS Node
		RHS Node
		Typ fhirpath.Type
	}
	Union struct {
		AST ast.Expr
		LHS Node
		RHS Node
		Typ fhirpath.Type
	}
	// Is tests membership of a value in a named type.
	Is struct {
		AST      ast.Expr
		Operand  Node
		TypeName string
		Typ      fhirpath.Type
	}
	// OfType narrows a polymorphic operand to one member type.  Both the
	// ofType function and the as operator lower to this node.
	OfType struct {
		AST      ast.Expr
		Operand  Node
		TypeName string
		Typ      fhirpath.Type
	}
	// Function is a registry-bound call.  Operand is the collection the
	// function applies to; criteria arguments have been analyzed with
	// $this bound to the operand's element type.
	Function struct {
		AST     *ast.Call
		Name    string
		Operand Node
		Args    []Node
		Typ     fhirpath.Type
	}
)

func (n *Root) Type() fhirpath.Type       { return n.Typ }
func (n *Reference) Type() fhirpath.Type  { return n.Typ }
func (n *Literal) Type() fhirpath.Type    { return n.Typ }
func (n *Property) Type() fhirpath.Type   { return n.Typ }
func (n *Indexer) Type() fhirpath.Type    { return n.Typ }
func (n *Polarity) Type() fhirpath.Type   { return n.Typ }
func (n *Arithmetic) Type() fhirpath.Type { return n.Typ }
func (n *Equality) Type() fhirpath.Type   { return n.Typ }
func (n *Comparison) Type() fhirpath.Type { return n.Typ }
func (n *BooleanOp) Type() fhirpath.Type  { return n.Typ }
func (n *Membership) Type() fhirpath.Type { return n.Typ }
func (n *Union) Type() fhirpath.Type      { return n.Typ }
func (n *Is) Type() fhirpath.Type         { return n.Typ }
func (n *OfType) Type() fhirpath.Type     { return n.Typ }
func (n *Function) Type() fhirpath.Type   { return n.Typ }

func (*Root) irNode()       {}
func (*Reference) irNode()  {}
func (*Literal) irNode()    {}
func (*Property) irNode()   {}
func (*Indexer) irNode()    {}
func (*Polarity) irNode()   {}
func (*Arithmetic) irNode() {}
func (*Equality) irNode()   {}
func (*Comparison) irNode() {}
func (*BooleanOp) irNode()  {}
func (*Membership) irNode() {}
func (*Union) irNode()      {}
func (*Is) irNode()         {}
func (*OfType) irNode()     {}
func (*Function) irNode()   {}

// IsEmptyLiteral reports whether n is the {} literal.
func IsEmptyLiteral(n Node) bool {
	l, ok := n.(*Literal)
	if !ok {
		return false
	}
	_, empty := l.Typ.(fhirpath.Empty)
	return empty
}

// Walk calls visit on n and, while visit returns true, on each of its
// operands in evaluation order.
func Walk(n Node, visit func(Node) bool) {
	if n == nil || !visit(n) {
		return
	}
	switch n := n.(type) {
	case *Property:
		Walk(n.Operand, visit)
	case *Indexer:
		Walk(n.Operand, visit)
		Walk(n.Index, visit)
	case *Polarity:
		Walk(n.Operand, visit)
	case *Arithmetic:
		Walk(n.LHS, visit)
		Walk(n.RHS, visit)
	case *Equality:
		Walk(n.LHS, visit)
		Walk(n.RHS, visit)
	case *Comparison:
		Walk(n.LHS, visit)
		Walk(n.RHS, visit)
	case *BooleanOp:
		Walk(n.LHS, visit)
		Walk(n.RHS, visit)
	case *Membership:
		Walk(n.LHS, visit)
		Walk(n.RHS, visit)
	case *Union:
		Walk(n.LHS, visit)
		Walk(n.RHS, visit)
	case *Is:
		Walk(n.Operand, visit)
	case *OfType:
		Walk(n.Operand, visit)
	case *Function:
		Walk(n.Operand, visit)
		for _, arg := range n.Args {
			Walk(arg, visit)
		}
	}
}
