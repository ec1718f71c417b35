package analyzer

import (
	"strings"
	"unicode"

	"go.lsp.dev/protocol"
)

// lexLine tokenizes one source line into Line, tagging each token with
// its position relative to lineNo.
func lexLine(lineNo int, text string) Line {
	var tokens []Token
	runes := []rune(text)
	i := 0
	for i < len(runes) {
		ch := runes[i]
		switch {
		case unicode.IsSpace(ch):
			i++
		case ch == '#':
			i = len(runes) // comment: consume the rest of the line
		case unicode.IsLetter(ch) || ch == '_':
			start := i
			for i < len(runes) && (unicode.IsLetter(runes[i]) || unicode.IsDigit(runes[i]) || runes[i] == '_') {
				i++
			}
			text := string(runes[start:i])
			kind := TokenIdent
			if keywords[text] {
				kind = TokenKeyword
			}
			tokens = append(tokens, newToken(kind, text, lineNo, start, i))
		case unicode.IsDigit(ch):
			start := i
			for i < len(runes) && (unicode.IsDigit(runes[i]) || runes[i] == '.') {
				i++
			}
			tokens = append(tokens, newToken(TokenNumber, string(runes[start:i]), lineNo, start, i))
		case ch == '"' || ch == '\'':
			start := i
			quote := ch
			i++
			for i < len(runes) && runes[i] != quote {
				i++
			}
			if i < len(runes) {
				i++
			}
			tokens = append(tokens, newToken(TokenString, string(runes[start:i]), lineNo, start, i))
		case ch == '.':
			tokens = append(tokens, newToken(TokenDot, ".", lineNo, i, i+1))
			i++
		case ch == '(':
			tokens = append(tokens, newToken(TokenLParen, "(", lineNo, i, i+1))
			i++
		case ch == ')':
			tokens = append(tokens, newToken(TokenRParen, ")", lineNo, i, i+1))
			i++
		case ch == ',':
			tokens = append(tokens, newToken(TokenComma, ",", lineNo, i, i+1))
			i++
		case ch == '=':
			tokens = append(tokens, newToken(TokenEquals, "=", lineNo, i, i+1))
			i++
		default:
			tokens = append(tokens, newToken(TokenOp, string(ch), lineNo, i, i+1))
			i++
		}
	}
	return Line{Text: text, Tokens: tokens}
}

func newToken(kind TokenKind, text string, line, startCol, endCol int) Token {
	return Token{
		Kind:  kind,
		Text:  text,
		Start: protocol.Position{Line: uint32(line), Character: uint32(startCol)},
		End:   protocol.Position{Line: uint32(line), Character: uint32(endCol)},
	}
}

// lexSource tokenizes every line of source.
func lexSource(source string) []Line {
	rawLines := strings.Split(source, "\n")
	lines := make([]Line, 0, len(rawLines))
	for i, raw := range rawLines {
		lines = append(lines, lexLine(i, raw))
	}
	return lines
}
