// Package rewrite implements the HTML, CSS, and JS rewriters (spec.md
// §4.5-§4.7, C5/C6/C7). The CSS rewriter parses the stylesheet into
// douceur's AST and reconstructs it through that AST's own String()
// serialization, the same dependency the teacher's cascade engine
// (oms/css_engine.go) builds on - but used here only to locate url()/
// @import tokens, not to resolve cascade/specificity.
package rewrite

import (
	"regexp"
	"strings"

	cssast "github.com/aymerick/douceur/css"
	"github.com/aymerick/douceur/parser"

	"relayproxy/internal/codec"
)

// urlFuncPattern matches url( quote? URL quote? ), spec.md §4.6.
var urlFuncPattern = regexp.MustCompile(`(?i)url\(\s*(['"]?)([^'")]*)['"]?\s*\)`)

// importURLPattern matches the bare-string form: @import quote URL quote,
// without a url(...) wrapper.
var importURLPattern = regexp.MustCompile(`(?i)^\s*(['"])([^'"]*)['"]`)

func skippableCSSURL(u string) bool {
	u = strings.TrimSpace(u)
	if u == "" {
		return true
	}
	lower := strings.ToLower(u)
	switch {
	case strings.HasPrefix(lower, "data:"),
		strings.HasPrefix(lower, "about:"),
		strings.HasPrefix(lower, "javascript:"),
		strings.HasPrefix(lower, "#"),
		strings.HasPrefix(u, codec.ProxyPrefix),
		strings.HasPrefix(u, codec.ExternalPrefix):
		return true
	}
	return false
}

// rewriteOneCSSURL resolves a single CSS URL token against base and
// returns its /p/<enc> form, or the original token if it should be left
// alone.
func rewriteOneCSSURL(base, raw string) string {
	if skippableCSSURL(raw) {
		return raw
	}
	resolved, ok := codec.ResolveAgainst(base, raw)
	if !ok {
		return raw
	}
	return codec.ProxyPrefix + codec.Encode(resolved)
}

// rewriteURLFuncs rewrites every url(...) occurrence within a raw CSS
// value/property string, preserving quoting style and any surrounding
// text (e.g. "no-repeat" in a shorthand background value).
func rewriteURLFuncs(base, value string) string {
	return urlFuncPattern.ReplaceAllStringFunc(value, func(match string) string {
		sub := urlFuncPattern.FindStringSubmatch(match)
		quote, raw := sub[1], sub[2]
		rewritten := rewriteOneCSSURL(base, raw)
		return "url(" + quote + rewritten + quote + ")"
	})
}

// rewriteImportPrelude rewrites an @import rule's prelude, which is either
// a bare quoted string or a url(...) wrapper, and preserves any trailing
// media query list.
func rewriteImportPrelude(base, prelude string) string {
	trimmed := strings.TrimSpace(prelude)
	if strings.HasPrefix(strings.ToLower(trimmed), "url(") {
		return rewriteURLFuncs(base, prelude)
	}
	loc := importURLPattern.FindStringSubmatchIndex(trimmed)
	if loc == nil {
		return prelude
	}
	quote := trimmed[loc[2]:loc[3]]
	raw := trimmed[loc[4]:loc[5]]
	rewritten := rewriteOneCSSURL(base, raw)
	rest := trimmed[loc[1]:]
	return quote + rewritten + quote + rest
}

// RewriteStylesheet parses a full CSS document and rewrites every url()
// and @import target against base, recursively through nested @media/
// @supports blocks. Declarations and selectors that carry no URL are
// emitted unchanged via the AST's own serialization.
func RewriteStylesheet(cssText, base string) string {
	sheet, err := parser.Parse(cssText)
	if err != nil {
		// Malformed CSS: fall back to a pure-text regex pass rather than
		// dropping the stylesheet.
		return rewriteURLFuncs(base, cssText)
	}
	rewriteRules(sheet.Rules, base)
	return sheet.String()
}

// RewriteInlineStyle rewrites only url(...) occurrences in a style=""
// attribute value; @import has no meaning there.
func RewriteInlineStyle(styleValue, base string) string {
	return rewriteURLFuncs(base, styleValue)
}

func rewriteRules(rules []*cssast.Rule, base string) {
	for _, rule := range rules {
		if rule == nil {
			continue
		}
		switch rule.Kind {
		case cssast.AtRule:
			name := strings.ToLower(strings.TrimSpace(rule.Name))
			if name == "@import" {
				rule.Prelude = rewriteImportPrelude(base, rule.Prelude)
				continue
			}
			// @media, @supports, @font-face, etc: recurse into nested
			// rules/declarations.
			for _, decl := range rule.Declarations {
				decl.Value = rewriteURLFuncs(base, decl.Value)
			}
			rewriteRules(rule.Rules, base)
		default:
			for _, decl := range rule.Declarations {
				decl.Value = rewriteURLFuncs(base, decl.Value)
			}
		}
	}
}
