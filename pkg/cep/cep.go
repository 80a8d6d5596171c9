// Package cep validates Brazilian postal codes (CEP) and resolves them to
// street addresses through the ViaCEP directory service.
package cep

import "strings"

// Length is the number of digits in a canonical CEP.
const Length = 8

// Normalize strips every non-digit from raw. It reports ok only when exactly
// eight digits remain. Normalize is idempotent.
func Normalize(raw string) (code string, ok bool) {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	code = b.String()
	return code, len(code) == Length
}

// ValidFormat reports whether raw normalizes to a canonical CEP.
func ValidFormat(raw string) bool {
	_, ok := Normalize(raw)
	return ok
}

// Format renders raw as XXXXX-XXX. Invalid input is returned unchanged.
func Format(raw string) string {
	code, ok := Normalize(raw)
	if !ok {
		return raw
	}
	return code[:5] + "-" + code[5:]
}
