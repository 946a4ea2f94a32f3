package parser

import (
	"strings"
	"unicode/utf8"
)

type lexer struct {
	input string
	pos   int
}

func newLexer(input string) *lexer {
	return &lexer{input: input}
}

func (l *lexer) eof() bool {
	return l.pos >= len(l.input)
}

func (l *lexer) peekRune() (rune, bool) {
	if l.eof() {
		return 0, false
	}
	r, _ := utf8.DecodeRuneInString(l.input[l.pos:])
	return r, true
}

func (l *lexer) readRune() (rune, bool) {
	r, n := utf8.DecodeRuneInString(l.input[l.pos:])
	if n == 0 {
		return 0, false
	}
	l.pos += n
	return r, true
}

// skipSpace advances over whitespace and comments.  It fails only on an
// unterminated block comment.
func (l *lexer) skipSpace() error {
	for !l.eof() {
		switch c := l.input[l.pos]; {
		case c == ' ' || c == '\t' || c == '\r' || c == '\n':
			l.pos++
		case strings.HasPrefix(l.input[l.pos:], "//"):
			if nl := strings.IndexByte(l.input[l.pos:], '\n'); nl >= 0 {
				l.pos += nl + 1
			} else {
				l.pos = len(l.input)
			}
		case strings.HasPrefix(l.input[l.pos:], "/*"):
			end := strings.Index(l.input[l.pos+2:], "*/")
			if end < 0 {
				return l.error("unterminated block comment")
			}
			l.pos += end + 4
		default:
			return nil
		}
	}
	return nil
}

// match consumes the given punctuation if it appears next, skipping any
// leading space.
func (l *lexer) match(s string) (bool, error) {
	if err := l.skipSpace(); err != nil {
		return false, err
	}
	if strings.HasPrefix(l.input[l.pos:], s) {
		l.pos += len(s)
		return true, nil
	}
	return false, nil
}

// matchPunct tries each operator in order and consumes the first that
// matches, so longer operators must precede their prefixes.
func (l *lexer) matchPunct(ops ...string) (string, error) {
	if err := l.skipSpace(); err != nil {
		return "", err
	}
	for _, op := range ops {
		if strings.HasPrefix(l.input[l.pos:], op) {
			l.pos += len(op)
			return op, nil
		}
	}
	return "", nil
}

func idChar(r rune) bool {
	return r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}

// scanIdentifier reads a bare identifier.  The caller has already checked
// that the next rune is an identifier character.
func (l *lexer) scanIdentifier() string {
	start := l.pos
	for {
		r, ok := l.peekRune()
		if !ok || !(idChar(r) || isDigit(r)) {
			return l.input[start:l.pos]
		}
		l.pos++
	}
}

// scanQuoted decodes the body of a quoted token up to the given terminator,
// with the opening delimiter already consumed.
func (l *lexer) scanQuoted(term rune, what string) (string, error) {
	var b strings.Builder
	for {
		r, ok := l.readRune()
		if !ok {
			return "", l.errorf("unterminated %s", what)
		}
		switch r {
		case term:
			return b.String(), nil
		case '\\':
			e, ok := l.readRune()
			if !ok {
				return "", l.errorf("unterminated %s", what)
			}
			switch e {
			case '\'', '"', '`', '\\', '/':
				b.WriteRune(e)
			case 'f':
				b.WriteRune('\f')
			case 'n':
				b.WriteRune('\n')
			case 'r':
				b.WriteRune('\r')
			case 't':
				b.WriteRune('\t')
			case 'u':
				r, err := l.scanUnicodeEscape()
				if err != nil {
					return "", err
				}
				b.WriteRune(r)
			default:
				return "", l.errorf("invalid escape sequence \\%c", e)
			}
		default:
			b.WriteRune(r)
		}
	}
}

func (l *lexer) scanUnicodeEscape() (rune, error) {
	var r rune
	for range 4 {
		c, ok := l.readRune()
		if !ok {
			return 0, l.error("unterminated unicode escape")
		}
		var v rune
		switch {
		case c >= '0' && c <= '9':
			v = c - '0'
		case c >= 'a' && c <= 'f':
			v = c - 'a' + 10
		case c >= 'A' && c <= 'F':
			v = c - 'A' + 10
		default:
			return 0, l.errorf("invalid unicode escape digit %q", c)
		}
		r = 16*r + v
	}
	return r, nil
}

func (l *lexer) scanString() (string, error) {
	l.pos++ // opening quote
	return l.scanQuoted('\'', "string literal")
}

func (l *lexer) scanDelimitedIdentifier() (string, error) {
	l.pos++ // opening backtick
	return l.scanQuoted('`', "delimited identifier")
}

// scanNumber reads an integer or decimal literal.  A dot is consumed only
// when a digit follows so method calls on integers lex correctly.
func (l *lexer) scanNumber() (string, bool) {
	start := l.pos
	for {
		r, ok := l.peekRune()
		if !ok || !isDigit(r) {
			break
		}
		l.pos++
	}
	decimal := false
	if l.pos+1 < len(l.input) && l.input[l.pos] == '.' && isDigit(rune(l.input[l.pos+1])) {
		decimal = true
		l.pos++
		for {
			r, ok := l.peekRune()
			if !ok || !isDigit(r) {
				break
			}
			l.pos++
		}
	}
	return l.input[start:l.pos], decimal
}

// scanDigits consumes exactly n digits, reporting whether they were
// present.
func (l *lexer) scanDigits(n int) bool {
	if l.pos+n > len(l.input) {
		return false
	}
	for i := range n {
		if !isDigit(rune(l.input[l.pos+i])) {
			return false
		}
	}
	l.pos += n
	return true
}

// scanTemporal reads the body of an @ literal with the @ already consumed.
// Date components are consumed only when structurally complete so that
// "@2013-5" lexes as the date 2013 followed by a subtraction.  The returned
// text excludes the T marker of a pure time literal.
func (l *lexer) scanTemporal() (string, bool, error) {
	if r, ok := l.peekRune(); ok && r == 'T' {
		l.pos++
		start := l.pos
		if !l.scanTimeText() {
			return "", false, l.error("invalid time literal")
		}
		return l.input[start:l.pos], true, nil
	}
	start := l.pos
	if !l.scanDigits(4) {
		return "", false, l.error("invalid date literal")
	}
	for range 2 {
		save := l.pos
		if !l.matchNoSpace("-") {
			break
		}
		if !l.scanDigits(2) {
			l.pos = save
			break
		}
	}
	// A trailing "T" with no time after it is still a datetime, just one
	// with date precision.
	if r, ok := l.peekRune(); ok && r == 'T' {
		l.pos++
		if l.scanTimeText() {
			l.scanTimezone()
		}
	}
	return l.input[start:l.pos], false, nil
}

func (l *lexer) scanTimeText() bool {
	if !l.scanDigits(2) {
		return false
	}
	for range 2 {
		save := l.pos
		if !l.matchNoSpace(":") {
			return true
		}
		if !l.scanDigits(2) {
			l.pos = save
			return true
		}
	}
	if l.pos+1 < len(l.input) && l.input[l.pos] == '.' && isDigit(rune(l.input[l.pos+1])) {
		l.pos++
		for {
			r, ok := l.peekRune()
			if !ok || !isDigit(r) {
				break
			}
			l.pos++
		}
	}
	return true
}

func (l *lexer) scanTimezone() {
	if r, ok := l.peekRune(); ok && r == 'Z' {
		l.pos++
		return
	}
	save := l.pos
	if r, ok := l.peekRune(); ok && (r == '+' || r == '-') {
		l.pos++
		if !l.scanDigits(2) {
			l.pos = save
			return
		}
		if !l.matchNoSpace(":") {
			l.pos = save
			return
		}
		if !l.scanDigits(2) {
			l.pos = save
		}
	}
}

// matchNoSpace consumes the given text only when it appears immediately at
// the cursor, for use inside tokens where whitespace is significant.
func (l *lexer) matchNoSpace(s string) bool {
	if strings.HasPrefix(l.input[l.pos:], s) {
		l.pos += len(s)
		return true
	}
	return false
}
