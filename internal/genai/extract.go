package genai

import (
	"errors"
	"strings"
)

// ErrNoPayload means the completion text contained no balanced-brace JSON
// object.
var ErrNoPayload = errors.New("no structured payload in completion")

// ExtractPayload locates the first balanced-brace span in free-form
// completion text. Models often wrap the JSON in prose or markdown fences;
// the span between the first '{' and its matching '}' is the payload.
// Braces inside JSON strings are honored.
func ExtractPayload(text string) (string, error) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", ErrNoPayload
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], nil
			}
		}
	}
	return "", ErrNoPayload
}
