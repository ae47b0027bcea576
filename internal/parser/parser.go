// Package parser parses the type expressions that appear in unit manifests:
// named types, applications, tuples, records, unions, function arrows and
// constraint clauses. The output is typesystem values directly; there is no
// intermediate syntax tree.
package parser

import (
	"fmt"

	"github.com/funvibe/funtrait/internal/diagnostics"
	"github.com/funvibe/funtrait/internal/lexer"
	"github.com/funvibe/funtrait/internal/token"
	"github.com/funvibe/funtrait/internal/typesystem"
)

// MaxRecursionDepth bounds nesting in type expressions.
const MaxRecursionDepth = 200

type Parser struct {
	l *lexer.Lexer

	curToken  token.Token
	peekToken token.Token

	file  string
	depth int

	// Set when a parenthesized list carried a variadic marker; consumed by
	// the arrow that makes it a parameter list.
	pendingVariadic bool
}

func newParser(input, file string, line, column int) *Parser {
	p := &Parser{l: lexer.NewAt(input, line, column), file: file}
	// Fill curToken and peekToken
	p.nextToken()
	p.nextToken()
	return p
}

// ParseType parses a standalone type expression.
func ParseType(input string) (typesystem.Type, error) {
	return ParseTypeAt(input, "", 1, 1)
}

// ParseTypeAt parses a type expression embedded in a document at the given
// position, so errors point into the document rather than the expression.
func ParseTypeAt(input, file string, line, column int) (typesystem.Type, error) {
	p := newParser(input, file, line, column)
	t, err := p.parseType()
	if err != nil {
		return nil, err
	}
	if err := p.expectEnd(); err != nil {
		return nil, err
	}
	return t, nil
}

// ParseSelfType parses an impl self type with an optional where clause,
// e.g. "List[a] where a: Renderable, a: Show".
func ParseSelfType(input, file string, line, column int) (typesystem.Type, []typesystem.Constraint, error) {
	p := newParser(input, file, line, column)
	t, err := p.parseType()
	if err != nil {
		return nil, nil, err
	}
	var constraints []typesystem.Constraint
	if p.peekTokenIs(token.WHERE) {
		p.nextToken()
		constraints, err = p.parseWhereClause()
		if err != nil {
			return nil, nil, err
		}
	}
	if err := p.expectEnd(); err != nil {
		return nil, nil, err
	}
	return t, constraints, nil
}

// ParseConstraint parses one constraint expression: a trait name, the
// constrained type variable, and optional extra type arguments, e.g.
// "Renderable a" or "Convert a Int".
func ParseConstraint(input, file string, line, column int) (typesystem.Constraint, error) {
	p := newParser(input, file, line, column)

	trait, err := p.parseTraitName()
	if err != nil {
		return typesystem.Constraint{}, err
	}

	if !p.expectPeek(token.IDENT_LOWER) {
		return typesystem.Constraint{}, p.errorf(p.peekToken, "constraint %s needs a type variable, got %q", trait, p.peekToken.Lexeme)
	}
	c := typesystem.Constraint{Trait: trait, TypeVar: p.curToken.Lexeme}

	for !p.peekTokenIs(token.EOF) {
		p.nextToken()
		arg, err := p.parseTypeApplication()
		if err != nil {
			return typesystem.Constraint{}, err
		}
		c.Args = append(c.Args, arg)
	}
	return c, nil
}

func (p *Parser) nextToken() {
	p.curToken = p.peekToken
	p.peekToken = p.l.NextToken()
}

func (p *Parser) curTokenIs(t token.TokenType) bool  { return p.curToken.Type == t }
func (p *Parser) peekTokenIs(t token.TokenType) bool { return p.peekToken.Type == t }

// expectPeek advances when the next token matches.
func (p *Parser) expectPeek(t token.TokenType) bool {
	if p.peekTokenIs(t) {
		p.nextToken()
		return true
	}
	return false
}

func (p *Parser) expectEnd() error {
	if p.pendingVariadic {
		p.pendingVariadic = false
		return p.errorf(p.curToken, "variadic marker is only valid in function parameters")
	}
	if !p.peekTokenIs(token.EOF) {
		return p.errorf(p.peekToken, "unexpected %q after type expression", p.peekToken.Lexeme)
	}
	return nil
}

func (p *Parser) errorf(tok token.Token, format string, args ...interface{}) error {
	d := diagnostics.NewError(diagnostics.ErrC005, tok, fmt.Sprintf(format, args...))
	d.File = p.file
	return d
}
