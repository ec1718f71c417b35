package analyzer

import (
	"context"
	"strings"

	"go.lsp.dev/protocol"

	"github.com/juniper-lang/juniper-ls/core"
)

// Parser tokenizes every part of a Document into a Tree. It never
// fails on malformed input — unrecognized lines are simply not
// reflected as statements, matching the "parser rejections are
// swallowed" error-handling rule for BadSource: a line-oriented
// scanner never produces BadSource, only emptier trees.
type Parser struct{}

// NewParser builds the Juniper line scanner.
func NewParser() *Parser { return &Parser{} }

// Parse implements core.Parser.
func (p *Parser) Parse(_ context.Context, _ protocol.DocumentURI, doc core.Document) (any, core.ParseCookie, error) {
	d, ok := doc.(*Document)
	if !ok {
		return nil, core.ParseCookie{}, core.UnsupportedDocumentType("document is not a *analyzer.Document")
	}

	tree := &Tree{Parts: make(map[int]*PartTree)}
	versions := make(map[int]int32)

	for _, partIdx := range d.Parts() {
		text := d.Text(partIdx)
		versions[partIdx] = d.Version(partIdx)
		tree.Parts[partIdx] = parsePart(text)
	}

	return tree, core.ParseCookie{Versions: versions}, nil
}

// parsePart scans one part's source into its statement lists.
func parsePart(source string) *PartTree {
	lines := lexSource(source)
	pt := &PartTree{Lines: lines}

	for lineNo, line := range lines {
		toks := line.Tokens
		if len(toks) == 0 {
			continue
		}

		switch {
		case toks[0].Kind == TokenKeyword && toks[0].Text == "import":
			pt.Imports = append(pt.Imports, parseImport(lineNo, toks))
		case toks[0].Kind == TokenKeyword && toks[0].Text == "def":
			pt.Defs = append(pt.Defs, parseDef(lineNo, toks))
		case len(toks) >= 2 && toks[0].Kind == TokenIdent && toks[1].Kind == TokenEquals:
			pt.Assigns = append(pt.Assigns, parseAssign(lineNo, toks))
		}
	}

	return pt
}

func parseImport(lineNo int, toks []Token) ImportStmt {
	if len(toks) < 2 {
		return ImportStmt{Line: lineNo}
	}
	name := toks[1].Text
	alias := name
	// "import <name> as <alias>"
	if len(toks) >= 4 && toks[2].Kind == TokenIdent && toks[2].Text == "as" {
		alias = toks[3].Text
	}
	return ImportStmt{ModuleName: name, Alias: alias, NameToken: toks[1], Line: lineNo}
}

func parseDef(lineNo int, toks []Token) DefStmt {
	if len(toks) < 2 {
		return DefStmt{Line: lineNo}
	}
	def := DefStmt{Name: toks[1].Text, NameToken: toks[1], Line: lineNo}

	lp := indexOfKind(toks, TokenLParen)
	rp := indexOfKind(toks, TokenRParen)
	if lp < 0 || rp < 0 || rp < lp {
		return def
	}
	for _, t := range toks[lp+1 : rp] {
		if t.Kind == TokenIdent {
			def.Params = append(def.Params, Param{Name: t.Text})
		}
	}
	return def
}

func parseAssign(lineNo int, toks []Token) AssignStmt {
	exprToks := toks[2:]
	parts := make([]string, 0, len(exprToks))
	for _, t := range exprToks {
		parts = append(parts, t.Text)
	}
	return AssignStmt{
		Name:      toks[0].Text,
		Expr:      strings.Join(parts, " "),
		NameToken: toks[0],
		Line:      lineNo,
	}
}

func indexOfKind(toks []Token, kind TokenKind) int {
	for i, t := range toks {
		if t.Kind == kind {
			return i
		}
	}
	return -1
}
