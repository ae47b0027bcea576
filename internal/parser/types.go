package parser

import (
	"strings"

	"github.com/funvibe/funtrait/internal/token"
	"github.com/funvibe/funtrait/internal/typesystem"
)

// parseType handles unions and everything below them. Declared member order
// is preserved; normalization is the type system's business.
func (p *Parser) parseType() (typesystem.Type, error) {
	p.depth++
	defer func() { p.depth-- }()
	if p.depth > MaxRecursionDepth {
		return nil, p.errorf(p.curToken, "type expression is nested too deeply")
	}

	t, err := p.parseNonUnionType()
	if err != nil {
		return nil, err
	}
	if !p.peekTokenIs(token.PIPE) {
		return t, nil
	}

	members := []typesystem.Type{t}
	for p.peekTokenIs(token.PIPE) {
		p.nextToken() // consume '|'
		p.nextToken() // move to the next member
		next, err := p.parseNonUnionType()
		if err != nil {
			return nil, err
		}
		members = append(members, next)
	}
	return typesystem.TUnion{Types: members}, nil
}

// parseNonUnionType handles function arrows and below (no union).
func (p *Parser) parseNonUnionType() (typesystem.Type, error) {
	if p.curTokenIs(token.LBRACE) {
		return p.parseRecordType()
	}

	t, err := p.parseTypeApplication()
	if err != nil {
		return nil, err
	}

	if p.peekTokenIs(token.ARROW) {
		variadic := p.pendingVariadic
		p.pendingVariadic = false
		p.nextToken() // consume '->'
		p.nextToken() // move to the return type
		ret, err := p.parseType()
		if err != nil {
			return nil, err
		}
		var params []typesystem.Type
		if tuple, ok := t.(typesystem.TTuple); ok {
			params = tuple.Elements
		} else {
			params = []typesystem.Type{t}
		}
		return typesystem.TFunc{Params: params, ReturnType: ret, IsVariadic: variadic}, nil
	}

	if p.pendingVariadic {
		p.pendingVariadic = false
		return nil, p.errorf(p.curToken, "variadic marker is only valid in function parameters")
	}
	return t, nil
}

// parseRecordType parses { x: Int, y: Int } and the open form
// { x: Int | r }. A '|' inside a record always introduces the row tail;
// union-typed fields need parentheses.
func (p *Parser) parseRecordType() (typesystem.Type, error) {
	rec := typesystem.TRecord{Fields: make(map[string]typesystem.Type)}
	p.nextToken() // consume '{'

	for {
		switch {
		case p.curTokenIs(token.RBRACE):
			return rec, nil
		case p.curTokenIs(token.EOF):
			return nil, p.errorf(p.curToken, "unterminated record type")
		case p.curTokenIs(token.PIPE):
			if !p.expectPeek(token.IDENT_LOWER) {
				return nil, p.errorf(p.peekToken, "expected a row variable after |, got %q", p.peekToken.Lexeme)
			}
			rec.IsOpen = true
			rec.Row = typesystem.TVar{Name: p.curToken.Lexeme}
			if !p.expectPeek(token.RBRACE) {
				return nil, p.errorf(p.peekToken, "expected } after the row variable, got %q", p.peekToken.Lexeme)
			}
			return rec, nil
		}

		if !p.curTokenIs(token.IDENT_LOWER) && !p.curTokenIs(token.IDENT_UPPER) {
			return nil, p.errorf(p.curToken, "expected a field name in record type, got %q", p.curToken.Lexeme)
		}
		name := p.curToken.Lexeme
		if !p.expectPeek(token.COLON) {
			return nil, p.errorf(p.peekToken, "expected : after field %s", name)
		}
		p.nextToken() // move to the field type

		fieldType, err := p.parseNonUnionType()
		if err != nil {
			return nil, err
		}
		rec.Fields[name] = fieldType

		switch {
		case p.peekTokenIs(token.COMMA):
			p.nextToken()
			p.nextToken()
		case p.peekTokenIs(token.PIPE), p.peekTokenIs(token.RBRACE):
			p.nextToken()
		default:
			return nil, p.errorf(p.peekToken, "expected , or } in record type, got %q", p.peekToken.Lexeme)
		}
	}
}

// parseTypeApplication parses an atomic type with optional bracketed
// arguments: List[a], Map[Text, Int], f[a].
func (p *Parser) parseTypeApplication() (typesystem.Type, error) {
	baseTok := p.curToken
	base, err := p.parseAtomicType()
	if err != nil {
		return nil, err
	}
	if !p.peekTokenIs(token.LBRACKET) {
		return base, nil
	}
	p.nextToken() // consume '['
	p.nextToken() // move to the first argument

	var args []typesystem.Type
	for !p.curTokenIs(token.RBRACKET) {
		arg, err := p.parseType()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
		if p.peekTokenIs(token.COMMA) {
			p.nextToken()
			p.nextToken()
			continue
		}
		if !p.expectPeek(token.RBRACKET) {
			return nil, p.errorf(p.peekToken, "expected , or ] in type application, got %q", p.peekToken.Lexeme)
		}
		break
	}
	if len(args) == 0 {
		return nil, p.errorf(p.curToken, "type application needs at least one argument")
	}
	return p.applyArgs(base, baseTok, args)
}

// applyArgs builds the application, giving the constructor the arrow kind
// its use implies. Variable heads stay argument-kind-agnostic so they can
// later bind constructors whose parameters are themselves higher-kinded.
func (p *Parser) applyArgs(base typesystem.Type, baseTok token.Token, args []typesystem.Type) (typesystem.Type, error) {
	kinds := make([]typesystem.Kind, len(args)+1)
	switch head := base.(type) {
	case typesystem.TCon:
		for i := range kinds {
			kinds[i] = typesystem.Star
		}
		head.KindVal = typesystem.MakeArrow(kinds...)
		return typesystem.TApp{Constructor: head, Args: args}, nil
	case typesystem.TVar:
		for i := 0; i < len(args); i++ {
			kinds[i] = typesystem.AnyKind
		}
		kinds[len(args)] = typesystem.Star
		head.KindVal = typesystem.MakeArrow(kinds...)
		return typesystem.TApp{Constructor: head, Args: args}, nil
	default:
		return nil, p.errorf(baseTok, "%s cannot take type arguments", base.String())
	}
}

func (p *Parser) parseAtomicType() (typesystem.Type, error) {
	switch {
	case p.curTokenIs(token.LPAREN):
		return p.parseParenType()
	case p.curTokenIs(token.IDENT_UPPER):
		name, err := p.qualifiedName()
		if err != nil {
			return nil, err
		}
		module, base := splitQualified(name)
		return typesystem.TCon{Name: base, Module: module}, nil
	case p.curTokenIs(token.IDENT_LOWER):
		if p.peekTokenIs(token.DOT) {
			// Module-qualified name: geo.Circle
			name, err := p.qualifiedName()
			if err != nil {
				return nil, err
			}
			module, base := splitQualified(name)
			return typesystem.TCon{Name: base, Module: module}, nil
		}
		return typesystem.TVar{Name: p.curToken.Lexeme}, nil
	default:
		return nil, p.errorf(p.curToken, "expected a type, got %q", p.curToken.Lexeme)
	}
}

// parseParenType parses (), (T) grouping, (A, B) tuples, and parameter
// lists with a variadic marker: (Int, ...Text).
func (p *Parser) parseParenType() (typesystem.Type, error) {
	p.nextToken() // consume '('

	if p.curTokenIs(token.RPAREN) {
		return typesystem.TTuple{}, nil
	}

	variadic := false
	if p.curTokenIs(token.ELLIPSIS) {
		variadic = true
		p.nextToken()
	}
	first, err := p.parseType()
	if err != nil {
		return nil, err
	}
	elems := []typesystem.Type{first}

	for !variadic && p.peekTokenIs(token.COMMA) {
		p.nextToken() // consume ','
		p.nextToken()
		if p.curTokenIs(token.ELLIPSIS) {
			variadic = true
			p.nextToken()
		}
		el, err := p.parseType()
		if err != nil {
			return nil, err
		}
		elems = append(elems, el)
	}

	if !p.expectPeek(token.RPAREN) {
		return nil, p.errorf(p.peekToken, "expected ) in type, got %q", p.peekToken.Lexeme)
	}

	if variadic {
		p.pendingVariadic = true
		return typesystem.TTuple{Elements: elems}, nil
	}
	if len(elems) == 1 {
		return elems[0], nil // grouping
	}
	return typesystem.TTuple{Elements: elems}, nil
}

// qualifiedName reads a dotted identifier chain starting at curToken.
func (p *Parser) qualifiedName() (string, error) {
	name := p.curToken.Lexeme
	for p.peekTokenIs(token.DOT) {
		p.nextToken() // consume the ident, curToken is now '.'
		if !p.peekTokenIs(token.IDENT_UPPER) && !p.peekTokenIs(token.IDENT_LOWER) {
			return "", p.errorf(p.peekToken, "expected an identifier after ., got %q", p.peekToken.Lexeme)
		}
		p.nextToken()
		name += "." + p.curToken.Lexeme
	}
	return name, nil
}

// parseTraitName reads a trait reference, possibly module-qualified.
func (p *Parser) parseTraitName() (string, error) {
	if p.curTokenIs(token.IDENT_UPPER) || (p.curTokenIs(token.IDENT_LOWER) && p.peekTokenIs(token.DOT)) {
		return p.qualifiedName()
	}
	return "", p.errorf(p.curToken, "expected a trait name, got %q", p.curToken.Lexeme)
}

// parseWhereClause reads "a: Trait, b: Other" after the where keyword.
func (p *Parser) parseWhereClause() ([]typesystem.Constraint, error) {
	var constraints []typesystem.Constraint
	for {
		if !p.expectPeek(token.IDENT_LOWER) {
			return nil, p.errorf(p.peekToken, "expected a type variable after where, got %q", p.peekToken.Lexeme)
		}
		v := p.curToken.Lexeme
		if !p.expectPeek(token.COLON) {
			return nil, p.errorf(p.peekToken, "expected : after %s in where clause", v)
		}
		p.nextToken()
		trait, err := p.parseTraitName()
		if err != nil {
			return nil, err
		}
		constraints = append(constraints, typesystem.Constraint{TypeVar: v, Trait: trait})
		if !p.peekTokenIs(token.COMMA) {
			return constraints, nil
		}
		p.nextToken()
	}
}

// splitQualified separates a dotted name into module prefix and base name.
func splitQualified(name string) (module, base string) {
	i := strings.LastIndex(name, ".")
	if i < 0 {
		return "", name
	}
	return name[:i], name[i+1:]
}
