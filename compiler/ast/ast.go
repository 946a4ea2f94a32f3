// Package ast declares the syntax tree produced by parsing a path
// expression.  Nodes record source positions so later passes can report
// errors against the expression text.
package ast

type Node interface {
	Pos() int // Position of first character belonging to the node.
	End() int // Position of last character belonging to the node.
}

type Loc struct {
	First int
	Last  int
}

func NewLoc(pos, end int) Loc {
	return Loc{pos, end}
}

func (l Loc) Pos() int { return l.First }
func (l Loc) End() int { return l.Last }

// Expr is the interface implemented by all syntax nodes.  Every expression
// form of the language appears here; name resolution, typing, and function
// binding happen later in the semantic pass.
type Expr interface {
	Node
	ExprAST()
}

// The type definitions of all entities that implement the Expr interface.
type (
	// ID is a bare or `delimited` identifier.  Name holds the decoded
	// text with delimiters and escapes removed.
	ID struct {
		Name string
		Loc
	}
	// This is the $this reference bound by function criteria arguments.
	This struct {
		Loc
	}
	// Call is a function invocation, either at the head of an expression
	// or on the right-hand side of a dot.
	Call struct {
		Name *ID
		Args []Expr
		Loc
	}
	BoolLit struct {
		Value bool
		Loc
	}
	// StringLit holds the decoded value of a single-quoted literal.
	StringLit struct {
		Value string
		Loc
	}
	// IntLit and DecimalLit keep the literal text so decimals retain
	// their written precision.
	IntLit struct {
		Text string
		Loc
	}
	DecimalLit struct {
		Text string
		Loc
	}
	// TemporalLit is an @-prefixed date, datetime, or time literal.
	// Text excludes the @ and the T of a pure time literal.
	TemporalLit struct {
		Text string
		Time bool // @T form
		Loc
	}
	// QuantityLit pairs a numeric literal with a unit, either a
	// single-quoted UCUM code or a bare calendar keyword.
	QuantityLit struct {
		Text   string
		Unit   string
		Quoted bool
		Loc
	}
	// EmptyLit is the {} literal.
	EmptyLit struct {
		Loc
	}
	UnaryExpr struct {
		Op      string // "-" or "+"
		Operand Expr
		Loc
	}
	// A BinaryExpr is any expression of the form "lhs op rhs", including
	// dot navigation, arithmetic, comparisons, boolean logic, membership,
	// and union.
	BinaryExpr struct {
		Op  string
		LHS Expr
		RHS Expr
		Loc
	}
	IndexExpr struct {
		Expr  Expr
		Index Expr
		Loc
	}
	// TypeExpr is an "is" or "as" operator application.  Type holds the
	// possibly qualified type specifier.
	TypeExpr struct {
		Op   string
		Expr Expr
		Type *TypeID
		Loc
	}
	// TypeID is a type specifier such as Quantity or FHIR.Patient.
	TypeID struct {
		Name string
		Loc
	}
)

func (*ID) ExprAST()          {}
func (*This) ExprAST()        {}
func (*Call) ExprAST()        {}
func (*BoolLit) ExprAST()     {}
func (*StringLit) ExprAST()   {}
func (*IntLit) ExprAST()      {}
func (*DecimalLit) ExprAST()  {}
func (*TemporalLit) ExprAST() {}
func (*QuantityLit) ExprAST() {}
func (*EmptyLit) ExprAST()    {}
func (*UnaryExpr) ExprAST()   {}
func (*BinaryExpr) ExprAST()  {}
func (*IndexExpr) ExprAST()   {}
func (*TypeExpr) ExprAST()    {}
