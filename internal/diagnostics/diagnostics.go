package diagnostics

import (
	"fmt"

	"github.com/funvibe/funtrait/internal/token"
)

type ErrorCode string

const (
	// ErrC001: reference to an undeclared trait or type.
	ErrC001 ErrorCode = "C001"
	// ErrC002: duplicate definition (trait or impl redefined in one unit).
	ErrC002 ErrorCode = "C002"
	// ErrC003: coherence conflict, two impls overlap with no specialization
	// order and no dispensation.
	ErrC003 ErrorCode = "C003"
	// ErrC004: overlap accepted for backward compatibility; slated to
	// become a hard error.
	ErrC004 ErrorCode = "C004"
	// ErrC005: malformed unit manifest entry.
	ErrC005 ErrorCode = "C005"
)

type Severity int

const (
	SeverityError Severity = iota
	SeverityWarning
)

func (s Severity) String() string {
	if s == SeverityWarning {
		return "warning"
	}
	return "error"
}

// DiagnosticError is one positioned diagnostic. It is used for both hard
// errors and warnings; Severity tells them apart.
type DiagnosticError struct {
	Code     ErrorCode
	Token    token.Token
	File     string
	Message  string
	Severity Severity
}

func NewError(code ErrorCode, tok token.Token, message string) *DiagnosticError {
	return &DiagnosticError{Code: code, Token: tok, Message: message}
}

func NewWarning(code ErrorCode, tok token.Token, message string) *DiagnosticError {
	return &DiagnosticError{Code: code, Token: tok, Message: message, Severity: SeverityWarning}
}

func (e *DiagnosticError) Error() string {
	pos := fmt.Sprintf("%d:%d", e.Token.Line, e.Token.Column)
	if e.File != "" {
		pos = e.File + ":" + pos
	}
	return fmt.Sprintf("%s: %s [%s]: %s", pos, e.Severity, e.Code, e.Message)
}
