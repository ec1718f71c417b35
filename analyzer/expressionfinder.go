package analyzer

import (
	"strings"

	"go.lsp.dev/protocol"

	"github.com/juniper-lang/juniper-ls/core"
)

// MemberExpressionAt implements core.ExpressionFinder: it walks
// backward from pos over a contiguous run of Ident/Dot tokens to
// recover the dotted chain the cursor sits at the end of (e.g. "a.b."
// or "a.b.c"), tuned to prefer member evaluation over a bare name.
func (a *Analyzer) MemberExpressionAt(tree any, part int, pos protocol.Position) (string, bool) {
	t, ok := tree.(*Tree)
	if !ok {
		return "", false
	}
	pt := t.part(part)
	if pt == nil || int(pos.Line) >= len(pt.Lines) {
		return "", false
	}

	toks := pt.Lines[pos.Line].Tokens
	idx := tokenBefore(toks, pos)
	if idx < 0 {
		return "", false
	}

	end := idx
	start := idx
	for start > 0 {
		prev := toks[start-1]
		cur := toks[start]
		if (cur.Kind == TokenIdent && prev.Kind == TokenDot) || (cur.Kind == TokenDot && (prev.Kind == TokenIdent || prev.Kind == TokenRParen)) {
			start--
			continue
		}
		break
	}

	var b strings.Builder
	for i := start; i <= end; i++ {
		b.WriteString(toks[i].Text)
	}
	expr := b.String()
	if expr == "" {
		return "", false
	}
	return expr, true
}

// tokenBefore returns the index of the rightmost token that ends at or
// before pos on its line, or -1 if there is none.
func tokenBefore(toks []Token, pos protocol.Position) int {
	best := -1
	for i, t := range toks {
		if t.End.Character <= pos.Character {
			best = i
		} else {
			break
		}
	}
	return best
}

// EnclosingCallAt implements core.ExpressionFinder by finding the
// nearest unmatched "(" on pos's line to the left of pos, then reading
// the identifier chain immediately preceding it as the function
// expression, counting commas between it and pos for the active
// argument index, and collecting "name=" tokens already present as
// argument names.
func (a *Analyzer) EnclosingCallAt(tree any, part int, pos protocol.Position) (*core.CallContext, bool) {
	t, ok := tree.(*Tree)
	if !ok {
		return nil, false
	}
	pt := t.part(part)
	if pt == nil || int(pos.Line) >= len(pt.Lines) {
		return nil, false
	}

	toks := pt.Lines[pos.Line].Tokens
	cursor := tokenBefore(toks, pos)

	depth := 0
	openIdx := -1
	for i := cursor; i >= 0; i-- {
		switch toks[i].Kind {
		case TokenRParen:
			depth++
		case TokenLParen:
			if depth == 0 {
				openIdx = i
			} else {
				depth--
			}
		}
		if openIdx >= 0 {
			break
		}
	}
	if openIdx <= 0 {
		return nil, false
	}

	funcEnd := openIdx - 1
	funcStart := funcEnd
	for funcStart > 0 {
		prev := toks[funcStart-1]
		cur := toks[funcStart]
		if (cur.Kind == TokenIdent && prev.Kind == TokenDot) || (cur.Kind == TokenDot && prev.Kind == TokenIdent) {
			funcStart--
			continue
		}
		break
	}
	if toks[funcStart].Kind != TokenIdent && toks[funcStart].Kind != TokenDot {
		return nil, false
	}

	var fb strings.Builder
	for i := funcStart; i <= funcEnd; i++ {
		fb.WriteString(toks[i].Text)
	}

	argIndex := 0
	var argNames []string
	depth = 0
	for i := openIdx + 1; i <= cursor && i < len(toks); i++ {
		switch toks[i].Kind {
		case TokenLParen:
			depth++
		case TokenRParen:
			depth--
		case TokenComma:
			if depth == 0 {
				argIndex++
			}
		case TokenIdent:
			if depth == 0 && i+1 < len(toks) && toks[i+1].Kind == TokenEquals {
				argNames = append(argNames, toks[i].Text)
			}
		}
	}

	return &core.CallContext{FunctionExpr: fb.String(), ArgumentIndex: argIndex, ArgumentNames: argNames}, true
}

// ImportNameAt implements core.ExpressionFinder: true when pos lands
// on the module-name token of an "import <name>" statement.
func (a *Analyzer) ImportNameAt(tree any, part int, pos protocol.Position) (string, bool) {
	t, ok := tree.(*Tree)
	if !ok {
		return "", false
	}
	pt := t.part(part)
	if pt == nil {
		return "", false
	}
	for _, imp := range pt.Imports {
		if imp.NameToken.Start.Line != pos.Line {
			continue
		}
		if pos.Character >= imp.NameToken.Start.Character && pos.Character <= imp.NameToken.End.Character {
			return imp.ModuleName, true
		}
	}
	return "", false
}
