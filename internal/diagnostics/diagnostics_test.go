package diagnostics

import (
	"testing"

	"github.com/funvibe/funtrait/internal/token"
)

func TestErrorRendering(t *testing.T) {
	tok := token.Token{Type: token.IDENT_UPPER, Lexeme: "Show", Literal: "Show", Line: 3, Column: 11}

	tests := []struct {
		name string
		diag *DiagnosticError
		want string
	}{
		{
			"error with file",
			&DiagnosticError{Code: ErrC003, Token: tok, File: "geometry.unit.yaml", Message: "overlapping impls"},
			"geometry.unit.yaml:3:11: error [C003]: overlapping impls",
		},
		{
			"error without file",
			NewError(ErrC001, tok, "trait Show not found"),
			"3:11: error [C001]: trait Show not found",
		},
		{
			"warning",
			NewWarning(ErrC004, tok, "impls overlap under strict inference"),
			"3:11: warning [C004]: impls overlap under strict inference",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.diag.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}
