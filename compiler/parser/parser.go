// Package parser turns path expression text into the syntax tree declared
// by the ast package.  The grammar is a fixed precedence chain, parsed by
// recursive descent: each level matches its own operators and delegates
// operands to the next tighter level.
package parser

import (
	"fmt"

	"github.com/carequery/fhirpath/compiler/ast"
)

// SyntaxError reports malformed expression text.  Position is the byte
// offset of the first character the parser could not make sense of.
type SyntaxError struct {
	Expression string
	Position   int
	Msg        string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at position %d: %s", e.Position, e.Msg)
}

type Parser struct {
	lexer *lexer
}

// Parse parses a complete path expression, failing with a SyntaxError when
// any input remains after the outermost expression.
func Parse(text string) (ast.Expr, error) {
	p := &Parser{lexer: newLexer(text)}
	e, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if err := p.lexer.skipSpace(); err != nil {
		return nil, err
	}
	if !p.lexer.eof() {
		return nil, p.error("unexpected text after expression")
	}
	return e, nil
}

func (p *Parser) error(msg string) error {
	return &SyntaxError{Expression: p.lexer.input, Position: p.lexer.pos, Msg: msg}
}

func (p *Parser) errorf(format string, args ...any) error {
	return p.error(fmt.Sprintf(format, args...))
}

func (l *lexer) error(msg string) error {
	return &SyntaxError{Expression: l.input, Position: l.pos, Msg: msg}
}

func (l *lexer) errorf(format string, args ...any) error {
	return l.error(fmt.Sprintf(format, args...))
}

// matchKeyword consumes the next identifier when it is one of the given
// words, so that an operator like "div" never swallows the head of an
// identifier like "division".
func (p *Parser) matchKeyword(words ...string) (string, error) {
	l := p.lexer
	if err := l.skipSpace(); err != nil {
		return "", err
	}
	save := l.pos
	r, ok := l.peekRune()
	if !ok || !idChar(r) {
		return "", nil
	}
	word := l.scanIdentifier()
	for _, w := range words {
		if word == w {
			return w, nil
		}
	}
	l.pos = save
	return "", nil
}

func (p *Parser) parseExpr() (ast.Expr, error) {
	return p.parseImplies()
}

func (p *Parser) parseImplies() (ast.Expr, error) {
	lhs, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	for {
		op, err := p.matchKeyword("implies")
		if err != nil {
			return nil, err
		}
		if op == "" {
			return lhs, nil
		}
		rhs, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		lhs = binary(op, lhs, rhs)
	}
}

func (p *Parser) parseOr() (ast.Expr, error) {
	lhs, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for {
		op, err := p.matchKeyword("or", "xor")
		if err != nil {
			return nil, err
		}
		if op == "" {
			return lhs, nil
		}
		rhs, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		lhs = binary(op, lhs, rhs)
	}
}

func (p *Parser) parseAnd() (ast.Expr, error) {
	lhs, err := p.parseMembership()
	if err != nil {
		return nil, err
	}
	for {
		op, err := p.matchKeyword("and")
		if err != nil {
			return nil, err
		}
		if op == "" {
			return lhs, nil
		}
		rhs, err := p.parseMembership()
		if err != nil {
			return nil, err
		}
		lhs = binary(op, lhs, rhs)
	}
}

func (p *Parser) parseMembership() (ast.Expr, error) {
	lhs, err := p.parseEquality()
	if err != nil {
		return nil, err
	}
	for {
		op, err := p.matchKeyword("in", "contains")
		if err != nil {
			return nil, err
		}
		if op == "" {
			return lhs, nil
		}
		rhs, err := p.parseEquality()
		if err != nil {
			return nil, err
		}
		lhs = binary(op, lhs, rhs)
	}
}

func (p *Parser) parseEquality() (ast.Expr, error) {
	lhs, err := p.parseInequality()
	if err != nil {
		return nil, err
	}
	for {
		op, err := p.lexer.matchPunct("!=", "!~", "=", "~")
		if err != nil {
			return nil, err
		}
		if op == "" {
			return lhs, nil
		}
		rhs, err := p.parseInequality()
		if err != nil {
			return nil, err
		}
		lhs = binary(op, lhs, rhs)
	}
}

func (p *Parser) parseInequality() (ast.Expr, error) {
	lhs, err := p.parseUnion()
	if err != nil {
		return nil, err
	}
	for {
		op, err := p.lexer.matchPunct("<=", ">=", "<", ">")
		if err != nil {
			return nil, err
		}
		if op == "" {
			return lhs, nil
		}
		rhs, err := p.parseUnion()
		if err != nil {
			return nil, err
		}
		lhs = binary(op, lhs, rhs)
	}
}

func (p *Parser) parseUnion() (ast.Expr, error) {
	lhs, err := p.parseTypeOps()
	if err != nil {
		return nil, err
	}
	for {
		op, err := p.lexer.matchPunct("|")
		if err != nil {
			return nil, err
		}
		if op == "" {
			return lhs, nil
		}
		rhs, err := p.parseTypeOps()
		if err != nil {
			return nil, err
		}
		lhs = binary(op, lhs, rhs)
	}
}

func (p *Parser) parseTypeOps() (ast.Expr, error) {
	lhs, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	for {
		op, err := p.matchKeyword("is", "as")
		if err != nil {
			return nil, err
		}
		if op == "" {
			return lhs, nil
		}
		typ, err := p.parseTypeID()
		if err != nil {
			return nil, err
		}
		lhs = &ast.TypeExpr{
			Op:   op,
			Expr: lhs,
			Type: typ,
			Loc:  ast.NewLoc(lhs.Pos(), typ.End()),
		}
	}
}

func (p *Parser) parseAdditive() (ast.Expr, error) {
	lhs, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for {
		op, err := p.lexer.matchPunct("+", "-", "&")
		if err != nil {
			return nil, err
		}
		if op == "" {
			return lhs, nil
		}
		rhs, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		lhs = binary(op, lhs, rhs)
	}
}

func (p *Parser) parseMultiplicative() (ast.Expr, error) {
	lhs, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		op, err := p.lexer.matchPunct("*", "/")
		if err != nil {
			return nil, err
		}
		if op == "" {
			if op, err = p.matchKeyword("div", "mod"); err != nil {
				return nil, err
			}
		}
		if op == "" {
			return lhs, nil
		}
		rhs, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		lhs = binary(op, lhs, rhs)
	}
}

func (p *Parser) parseUnary() (ast.Expr, error) {
	if err := p.lexer.skipSpace(); err != nil {
		return nil, err
	}
	start := p.lexer.pos
	op, err := p.lexer.matchPunct("+", "-")
	if err != nil {
		return nil, err
	}
	if op == "" {
		return p.parsePostfix()
	}
	operand, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	return &ast.UnaryExpr{
		Op:      op,
		Operand: operand,
		Loc:     ast.NewLoc(start, operand.End()),
	}, nil
}

func (p *Parser) parsePostfix() (ast.Expr, error) {
	e, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	l := p.lexer
	for {
		if ok, err := l.match("."); err != nil {
			return nil, err
		} else if ok {
			rhs, err := p.parseMember()
			if err != nil {
				return nil, err
			}
			e = &ast.BinaryExpr{
				Op:  ".",
				LHS: e,
				RHS: rhs,
				Loc: ast.NewLoc(e.Pos(), rhs.End()),
			}
			continue
		}
		if ok, err := l.match("["); err != nil {
			return nil, err
		} else if ok {
			index, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if ok, err := l.match("]"); err != nil {
				return nil, err
			} else if !ok {
				return nil, p.error("mismatched brackets in indexer")
			}
			e = &ast.IndexExpr{
				Expr:  e,
				Index: index,
				Loc:   ast.NewLoc(e.Pos(), l.pos-1),
			}
			continue
		}
		return e, nil
	}
}

// parseMember parses the right side of a dot: a member name or a function
// call.  Operator words like "contains" are ordinary member names here.
func (p *Parser) parseMember() (ast.Expr, error) {
	l := p.lexer
	if err := l.skipSpace(); err != nil {
		return nil, err
	}
	start := l.pos
	id, err := p.matchID()
	if err != nil {
		return nil, err
	}
	if id == nil {
		return nil, p.error("expected member name after '.'")
	}
	if ok, err := l.match("("); err != nil {
		return nil, err
	} else if ok {
		args, err := p.parseArgs()
		if err != nil {
			return nil, err
		}
		return &ast.Call{
			Name: id,
			Args: args,
			Loc:  ast.NewLoc(start, l.pos-1),
		}, nil
	}
	return id, nil
}

func (p *Parser) matchID() (*ast.ID, error) {
	l := p.lexer
	if err := l.skipSpace(); err != nil {
		return nil, err
	}
	start := l.pos
	r, ok := l.peekRune()
	if !ok {
		return nil, nil
	}
	var name string
	switch {
	case r == '`':
		var err error
		if name, err = l.scanDelimitedIdentifier(); err != nil {
			return nil, err
		}
	case idChar(r):
		name = l.scanIdentifier()
	default:
		return nil, nil
	}
	return &ast.ID{Name: name, Loc: ast.NewLoc(start, l.pos-1)}, nil
}

func (p *Parser) parseArgs() ([]ast.Expr, error) {
	l := p.lexer
	if ok, err := l.match(")"); err != nil {
		return nil, err
	} else if ok {
		return nil, nil
	}
	var args []ast.Expr
	for {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		args = append(args, e)
		if ok, err := l.match(","); err != nil {
			return nil, err
		} else if ok {
			continue
		}
		if ok, err := l.match(")"); err != nil {
			return nil, err
		} else if !ok {
			return nil, p.error("mismatched parens in function call")
		}
		return args, nil
	}
}

func (p *Parser) parseTypeID() (*ast.TypeID, error) {
	l := p.lexer
	if err := l.skipSpace(); err != nil {
		return nil, err
	}
	start := l.pos
	id, err := p.matchID()
	if err != nil {
		return nil, err
	}
	if id == nil {
		return nil, p.error("expected type name")
	}
	name := id.Name
	for {
		save := l.pos
		if ok, err := l.match("."); err != nil {
			return nil, err
		} else if !ok {
			break
		}
		part, err := p.matchID()
		if err != nil {
			return nil, err
		}
		if part == nil {
			l.pos = save
			break
		}
		name += "." + part.Name
	}
	return &ast.TypeID{Name: name, Loc: ast.NewLoc(start, l.pos-1)}, nil
}

var calendarUnits = map[string]bool{
	"year": true, "years": true,
	"month": true, "months": true,
	"week": true, "weeks": true,
	"day": true, "days": true,
	"hour": true, "hours": true,
	"minute": true, "minutes": true,
	"second": true, "seconds": true,
	"millisecond": true, "milliseconds": true,
}

func (p *Parser) parseTerm() (ast.Expr, error) {
	l := p.lexer
	if err := l.skipSpace(); err != nil {
		return nil, err
	}
	start := l.pos
	r, ok := l.peekRune()
	if !ok {
		return nil, p.error("unexpected end of expression")
	}
	switch {
	case r == '(':
		l.pos++
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if ok, err := l.match(")"); err != nil {
			return nil, err
		} else if !ok {
			return nil, p.error("mismatched parens")
		}
		return e, nil
	case r == '{':
		l.pos++
		if ok, err := l.match("}"); err != nil {
			return nil, err
		} else if !ok {
			return nil, p.error("mismatched braces in empty collection literal")
		}
		return &ast.EmptyLit{Loc: ast.NewLoc(start, l.pos-1)}, nil
	case r == '\'':
		s, err := l.scanString()
		if err != nil {
			return nil, err
		}
		return &ast.StringLit{Value: s, Loc: ast.NewLoc(start, l.pos-1)}, nil
	case r == '@':
		l.pos++
		text, isTime, err := l.scanTemporal()
		if err != nil {
			return nil, err
		}
		return &ast.TemporalLit{
			Text: text,
			Time: isTime,
			Loc:  ast.NewLoc(start, l.pos-1),
		}, nil
	case r == '$':
		l.pos++
		if r, ok := l.peekRune(); !ok || !idChar(r) {
			return nil, p.error("expected context reference after '$'")
		}
		if word := l.scanIdentifier(); word != "this" {
			return nil, p.errorf("unknown context reference $%s", word)
		}
		return &ast.This{Loc: ast.NewLoc(start, l.pos-1)}, nil
	case isDigit(r):
		return p.parseNumber(start)
	case r == '`' || idChar(r):
		return p.parseIdentifierTerm(start)
	}
	return nil, p.errorf("unexpected character %q", r)
}

// parseNumber parses an integer or decimal literal and promotes it to a
// quantity when a unit follows.
func (p *Parser) parseNumber(start int) (ast.Expr, error) {
	l := p.lexer
	text, isDecimal := l.scanNumber()
	save := l.pos
	if err := l.skipSpace(); err != nil {
		return nil, err
	}
	if r, ok := l.peekRune(); ok {
		if r == '\'' {
			unit, err := l.scanString()
			if err != nil {
				return nil, err
			}
			return &ast.QuantityLit{
				Text:   text,
				Unit:   unit,
				Quoted: true,
				Loc:    ast.NewLoc(start, l.pos-1),
			}, nil
		}
		if idChar(r) {
			wordStart := l.pos
			if word := l.scanIdentifier(); calendarUnits[word] {
				return &ast.QuantityLit{
					Text: text,
					Unit: word,
					Loc:  ast.NewLoc(start, l.pos-1),
				}, nil
			}
			l.pos = wordStart
		}
	}
	l.pos = save
	if isDecimal {
		return &ast.DecimalLit{Text: text, Loc: ast.NewLoc(start, l.pos-1)}, nil
	}
	return &ast.IntLit{Text: text, Loc: ast.NewLoc(start, l.pos-1)}, nil
}

// parseIdentifierTerm parses a term beginning with an identifier: a boolean
// literal, a function call, or a plain name.
func (p *Parser) parseIdentifierTerm(start int) (ast.Expr, error) {
	l := p.lexer
	r, _ := l.peekRune()
	delimited := r == '`'
	id, err := p.matchID()
	if err != nil {
		return nil, err
	}
	if !delimited {
		switch id.Name {
		case "true":
			return &ast.BoolLit{Value: true, Loc: id.Loc}, nil
		case "false":
			return &ast.BoolLit{Value: false, Loc: id.Loc}, nil
		}
	}
	if ok, err := l.match("("); err != nil {
		return nil, err
	} else if ok {
		args, err := p.parseArgs()
		if err != nil {
			return nil, err
		}
		return &ast.Call{
			Name: id,
			Args: args,
			Loc:  ast.NewLoc(start, l.pos-1),
		}, nil
	}
	return id, nil
}

func binary(op string, lhs, rhs ast.Expr) ast.Expr {
	return &ast.BinaryExpr{
		Op:  op,
		LHS: lhs,
		RHS: rhs,
		Loc: ast.NewLoc(lhs.Pos(), rhs.End()),
	}
}
