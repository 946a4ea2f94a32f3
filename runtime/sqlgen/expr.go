package sqlgen

import (
	"fmt"
	"strings"
)

// Expr is one node of the dialect-neutral relational tree the lowering
// builds.  String renders the node standalone; Operand renders it for
// embedding inside an enclosing expression, parenthesizing where the
// standalone form would not parse.
type Expr interface {
	fmt.Stringer
	// Alias names the column the expression is selected as.
	Alias() string
	// Type is the SQL type of that column.
	Type() DataType
	// Operand renders the expression as an operand of a larger one.
	Operand() string
}

// Raw is a fragment of SQL carried verbatim.
type Raw struct {
	Expr string
	Typ  DataType
	As   string
}

func (r *Raw) String() string { return r.Expr }

func (r *Raw) Alias() string {
	if r.As == "" {
		return "f0_"
	}
	return r.As
}

func (r *Raw) Type() DataType  { return r.Typ }
func (r *Raw) Operand() string { return r.Expr }

// Ident is a dotted column reference.
type Ident struct {
	Path []string
	Typ  DataType
	As   string
}

func (id *Ident) String() string { return strings.Join(id.Path, ".") }

func (id *Ident) Alias() string {
	if id.As == "" {
		return id.Path[len(id.Path)-1]
	}
	return id.As
}

func (id *Ident) Type() DataType  { return id.Typ }
func (id *Ident) Operand() string { return id.String() }

// Dot extends the reference by one member.
func (id *Ident) Dot(name string, typ DataType, alias string) *Ident {
	path := make([]string, len(id.Path), len(id.Path)+1)
	copy(path, id.Path)
	return &Ident{Path: append(path, name), Typ: typ, As: alias}
}

// matchesAlias reports whether selecting the reference under alias would
// be redundant, so the AS clause can be dropped.
func (id *Ident) matchesAlias(alias string) bool {
	last := id.Path[len(id.Path)-1]
	return last == alias || "`"+last+"`" == alias
}

// IsNull tests its operand against SQL NULL.
type IsNull struct {
	Of Expr
	As string
}

func (n *IsNull) String() string { return n.Of.Operand() + " IS NULL" }

func (n *IsNull) Alias() string {
	if n.As == "" {
		return "empty_"
	}
	return n.As
}

func (n *IsNull) Type() DataType  { return TypeBoolean }
func (n *IsNull) Operand() string { return "(" + n.String() + ")" }

// IsNotNull is the negated form of IsNull.
type IsNotNull struct {
	Of Expr
	As string
}

func (n *IsNotNull) String() string { return n.Of.Operand() + " IS NOT NULL" }

func (n *IsNotNull) Alias() string {
	if n.As == "" {
		return "has_value_"
	}
	return n.As
}

func (n *IsNotNull) Type() DataType  { return TypeBoolean }
func (n *IsNotNull) Operand() string { return "(" + n.String() + ")" }

// Subquery parenthesizes a query for use as a value or a FROM clause.
type Subquery struct {
	Expr Expr
}

func (s *Subquery) String() string  { return "(" + s.Expr.String() + ")" }
func (s *Subquery) Alias() string   { return s.Expr.Alias() }
func (s *Subquery) Type() DataType  { return s.Expr.Type() }
func (s *Subquery) Operand() string { return s.String() }

// Call renders a SQL function application, each argument following the
// name on its own line group.
type Call struct {
	Name string
	Args []Expr
	Typ  DataType
	As   string
}

func (c *Call) String() string {
	args := make([]string, len(c.Args))
	for i, a := range c.Args {
		args[i] = a.String()
	}
	return fmt.Sprintf("%s(\n%s)", c.Name, strings.Join(args, ", "))
}

func (c *Call) Alias() string {
	if c.As == "" {
		return strings.ToLower(c.Name) + "_"
	}
	return c.As
}

func (c *Call) Type() DataType  { return c.Typ }
func (c *Call) Operand() string { return c.String() }

// Union combines the rows of two selects.
type Union struct {
	LHS      *Select
	RHS      *Select
	Distinct bool
	Typ      DataType
	As       string
}

func (u *Union) String() string {
	kind := ""
	if u.Distinct {
		kind = "DISTINCT"
	}
	return fmt.Sprintf("%s\nUNION %s\n%s", u.LHS, kind, u.RHS)
}

func (u *Union) Alias() string {
	if u.As == "" {
		return "union_"
	}
	return u.As
}

func (u *Union) Type() DataType  { return u.Typ }
func (u *Union) Operand() string { return ToSubquery(u).String() }

// Select is a single-column SELECT whose FROM and WHERE parts are held as
// rendered SQL.  A zero Limit renders no LIMIT clause.
type Select struct {
	Sel   Expr
	From  string
	Where string
	Limit int
}

func (s *Select) Alias() string  { return s.Sel.Alias() }
func (s *Select) Type() DataType { return s.Sel.Type() }

func (s *Select) String() string {
	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(s.Sel.String())
	alias := s.Alias()
	if id, ok := s.Sel.(*Ident); !ok || !id.matchesAlias(alias) {
		b.WriteString(" AS ")
		b.WriteString(alias)
	}
	if s.From != "" {
		b.WriteString("\nFROM ")
		b.WriteString(s.From)
	}
	if s.Where != "" {
		b.WriteString("\nWHERE ")
		b.WriteString(s.Where)
	}
	if s.Limit > 0 {
		fmt.Fprintf(&b, "\nLIMIT %d", s.Limit)
	}
	return b.String()
}

func (s *Select) Operand() string {
	if s.From != "" || s.Where != "" || s.Limit > 0 {
		return ToSubquery(s).String()
	}
	return s.Sel.Operand()
}

// ToSubquery wraps e so it can stand in a FROM clause or as a value
// subquery.  Bare column expressions get an enclosing SELECT first.
func ToSubquery(e Expr) *Subquery {
	switch e.(type) {
	case *Select, *Union:
		return &Subquery{Expr: e}
	}
	return &Subquery{Expr: &Select{Sel: e}}
}

// toSelect normalizes e into a Select, turning unions into scans of their
// combined rows.
func toSelect(e Expr) *Select {
	switch e := e.(type) {
	case *Select:
		return e
	case *Union:
		return &Select{
			Sel:  &Ident{Path: []string{e.Alias()}, Typ: e.Type()},
			From: ToSubquery(e).String(),
		}
	}
	return &Select{Sel: e}
}
