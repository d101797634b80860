package sandbox

import (
	"fmt"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokKeyword
	tokNumber
	tokString
	tokOp    // operators and punctuation
)

var keywords = map[string]bool{
	"func": true, "let": true, "if": true, "else": true,
	"return": true, "for": true, "in": true,
	"true": true, "false": true, "nil": true,
}

type token struct {
	kind tokenKind
	text string
	line int
}

func (t token) String() string {
	if t.kind == tokEOF {
		return "end of input"
	}
	return fmt.Sprintf("%q", t.text)
}

// lex tokenizes source. Comments run from # to end of line. Only ASCII
// operators and identifiers are recognized; anything else is an error.
func lex(source string) ([]token, error) {
	var tokens []token
	line := 1
	i := 0
	n := len(source)

	for i < n {
		c := source[i]
		switch {
		case c == '\n':
			line++
			i++
		case c == ' ' || c == '\t' || c == '\r':
			i++
		case c == '#':
			for i < n && source[i] != '\n' {
				i++
			}
		case isIdentStart(c):
			start := i
			for i < n && isIdentPart(source[i]) {
				i++
			}
			word := source[start:i]
			kind := tokIdent
			if keywords[word] {
				kind = tokKeyword
			}
			tokens = append(tokens, token{kind: kind, text: word, line: line})
		case c >= '0' && c <= '9' || c == '.' && i+1 < n && source[i+1] >= '0' && source[i+1] <= '9':
			start := i
			for i < n && (source[i] >= '0' && source[i] <= '9' || source[i] == '.') {
				i++
			}
			tokens = append(tokens, token{kind: tokNumber, text: source[start:i], line: line})
		case c == '"':
			i++
			var sb strings.Builder
			for i < n && source[i] != '"' {
				if source[i] == '\n' {
					return nil, errf("line %d: unterminated string", line)
				}
				if source[i] == '\\' && i+1 < n {
					i++
					switch source[i] {
					case 'n':
						sb.WriteByte('\n')
					case 't':
						sb.WriteByte('\t')
					default:
						sb.WriteByte(source[i])
					}
				} else {
					sb.WriteByte(source[i])
				}
				i++
			}
			if i >= n {
				return nil, errf("line %d: unterminated string", line)
			}
			i++
			tokens = append(tokens, token{kind: tokString, text: sb.String(), line: line})
		case strings.ContainsRune("+-*/%(){}[],:", rune(c)):
			tokens = append(tokens, token{kind: tokOp, text: string(c), line: line})
			i++
		case c == '=' || c == '!' || c == '<' || c == '>':
			op := string(c)
			if i+1 < n && source[i+1] == '=' {
				op += "="
				i++
			}
			tokens = append(tokens, token{kind: tokOp, text: op, line: line})
			i++
		case c == '&' || c == '|':
			if i+1 < n && source[i+1] == c {
				tokens = append(tokens, token{kind: tokOp, text: string(c) + string(c), line: line})
				i += 2
			} else {
				return nil, errf("line %d: unexpected character %q", line, string(c))
			}
		default:
			if c < 128 && unicode.IsPrint(rune(c)) {
				return nil, errf("line %d: unexpected character %q", line, string(c))
			}
			return nil, errf("line %d: non-ASCII character in source", line)
		}
	}

	tokens = append(tokens, token{kind: tokEOF, line: line})
	return tokens, nil
}

func isIdentStart(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '_'
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || c >= '0' && c <= '9'
}
