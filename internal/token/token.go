package token

type TokenType string

// Token is one lexical unit of a type expression, with its source position
// for diagnostics.
type Token struct {
	Type    TokenType
	Lexeme  string
	Literal string
	Line    int
	Column  int
}

const (
	ILLEGAL = "ILLEGAL"
	EOF     = "EOF"

	// Identifiers. Uppercase first letter names a concrete type or trait,
	// lowercase a type variable.
	IDENT_UPPER = "IDENT_UPPER"
	IDENT_LOWER = "IDENT_LOWER"

	COMMA    = ","
	COLON    = ":"
	DOT      = "."
	PIPE     = "|"
	ARROW    = "->"
	ELLIPSIS = "..."

	LPAREN   = "("
	RPAREN   = ")"
	LBRACKET = "["
	RBRACKET = "]"
	LBRACE   = "{"
	RBRACE   = "}"

	WHERE = "WHERE"
)

var keywords = map[string]TokenType{
	"where": WHERE,
}

// LookupIdent distinguishes keywords from lowercase identifiers.
func LookupIdent(ident string) TokenType {
	if tok, ok := keywords[ident]; ok {
		return tok
	}
	return IDENT_LOWER
}
