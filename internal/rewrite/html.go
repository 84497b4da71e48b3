package rewrite

import (
	"bytes"
	"net/url"
	"strings"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"relayproxy/internal/codec"
	"relayproxy/internal/runtime"
)

// Mode selects which injected script and CSP behavior applies (spec.md
// §4.5).
type Mode int

const (
	ModePage Mode = iota
	ModeAdFrame
)

// injectedMarker flags a head already carrying the runtime scripts so a
// second rewrite pass is a no-op (spec.md §8 invariant 3: rewrite
// idempotence).
const injectedMarker = "data-relayproxy-injected"

// rewriteAttrs is the element->attribute rewrite table of spec.md §4.5,
// populated in init() the way the teacher's extraHTML4Handlers dispatch
// table is (oms/html4_extra.go).
var rewriteAttrs map[string][]string

func init() {
	rewriteAttrs = map[string][]string{
		"a":      {"href"},
		"link":   {"href"},
		"script": {"src"},
		"img":    {"src", "srcset"},
		"video":  {"src", "poster"},
		"audio":  {"src"},
		"source": {"src", "srcset"},
		"iframe": {"src"},
		"embed":  {"src"},
		"object": {"data"},
		"form":   {"action"},
		"input":  {"src"},
		"track":  {"src"},
		"area":   {"href"},
	}
}

// dataURLAttrs is the data-* attribute list of spec.md §4.5, rewritten on
// any element regardless of tag. data-srcset follows the srcset
// descriptor-preserving split.
var dataURLAttrs = []string{
	"data-href", "data-src", "data-url", "data-link", "data-target",
	"data-action", "data-background", "data-image", "data-poster",
	"data-lazy-src", "data-original",
}

const dataSrcsetAttr = "data-srcset"

var (
	baseSelector = cascadia.MustCompile("base[href]")
	headSelector = cascadia.MustCompile("head")
)

func skippableHTMLURL(u string) bool {
	u = strings.TrimSpace(u)
	if u == "" {
		return true
	}
	lower := strings.ToLower(u)
	switch {
	case strings.HasPrefix(lower, "data:"),
		strings.HasPrefix(lower, "javascript:"),
		strings.HasPrefix(lower, "mailto:"),
		strings.HasPrefix(lower, "tel:"),
		strings.HasPrefix(lower, "about:"),
		strings.HasPrefix(u, "#"),
		strings.HasPrefix(u, codec.ProxyPrefix),
		strings.HasPrefix(u, codec.ExternalPrefix):
		return true
	}
	return false
}

func rewriteOneHTMLURL(base, raw string) string {
	if skippableHTMLURL(raw) {
		return raw
	}
	resolved, ok := codec.ResolveAgainst(base, raw)
	if !ok {
		return raw
	}
	return codec.ProxyPrefix + codec.Encode(resolved)
}

// rewriteSrcset splits a srcset value on commas and rewrites only the URL
// token of each entry, preserving the descriptor text verbatim (spec.md
// §4.5, §8 edge cases).
func rewriteSrcset(base, value string) string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		fields := strings.Fields(trimmed)
		if len(fields) == 0 {
			continue
		}
		fields[0] = rewriteOneHTMLURL(base, fields[0])
		out = append(out, strings.Join(fields, " "))
	}
	return strings.Join(out, ", ")
}

func getAttr(n *html.Node, name string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}

func setAttr(n *html.Node, name, value string) {
	for i := range n.Attr {
		if n.Attr[i].Key == name {
			n.Attr[i].Val = value
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: name, Val: value})
}

func removeAttr(n *html.Node, name string) {
	for i, a := range n.Attr {
		if a.Key == name {
			n.Attr = append(n.Attr[:i], n.Attr[i+1:]...)
			return
		}
	}
}

func isCSPMeta(n *html.Node) bool {
	httpEquiv, ok := getAttr(n, "http-equiv")
	if !ok {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(httpEquiv)) {
	case "content-security-policy", "content-security-policy-report-only":
		return true
	default:
		return false
	}
}

// determineBase finds the first valid <base href> in the document and
// resolves it against the page URL B; an absent or invalid base href
// falls back to B unchanged (spec.md §4.5, §8 edge cases).
func determineBase(doc *html.Node, pageBase string) string {
	matches := baseSelector.MatchAll(doc)
	for _, n := range matches {
		href, ok := getAttr(n, "href")
		if !ok || strings.TrimSpace(href) == "" {
			continue
		}
		resolved, ok := codec.ResolveAgainst(pageBase, href)
		if !ok {
			continue
		}
		parsed, err := url.Parse(resolved)
		if err != nil || !parsed.IsAbs() || (parsed.Scheme != "http" && parsed.Scheme != "https") {
			continue
		}
		return resolved
	}
	return pageBase
}

// alreadyInjected reports whether head's first element child carries the
// idempotence marker.
func alreadyInjected(head *html.Node) bool {
	for c := head.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		if _, ok := getAttr(c, injectedMarker); ok {
			return true
		}
		break
	}
	return false
}

func newScriptNode(body string, marker bool) *html.Node {
	n := &html.Node{
		Type:     html.ElementNode,
		Data:     "script",
		DataAtom: atom.Script,
	}
	if marker {
		n.Attr = append(n.Attr, html.Attribute{Key: injectedMarker, Val: "1"})
	}
	n.AppendChild(&html.Node{Type: html.TextNode, Data: body})
	return n
}

// injectScripts prepends the runtime scripts (spec.md §4.5 step, in
// order: WebRTC neutralization then the mode-appropriate runtime script)
// as the first children of head, unless already present.
func injectScripts(head *html.Node, base string, mode Mode) {
	if alreadyInjected(head) {
		return
	}
	var runtimeScript string
	switch mode {
	case ModeAdFrame:
		runtimeScript = runtime.AdFrameScript(base)
	default:
		runtimeScript = runtime.PageScript(base, codec.ProxyPrefix)
	}
	runtimeNode := newScriptNode(runtimeScript, false)
	webrtcNode := newScriptNode(runtime.WebRTCNeutralizationScript(), true)

	first := head.FirstChild
	head.InsertBefore(runtimeNode, first)
	head.InsertBefore(webrtcNode, runtimeNode)
}

// rewriteNode mutates n in place: rewrites URL attributes per the table,
// strips integrity from table elements, and rewrites inline style and
// <style> content. Removing <base> and CSP <meta> nodes is done by walk.
func rewriteNode(n *html.Node, base string, mode Mode) {
	if n.Type != html.ElementNode {
		return
	}
	tag := n.Data

	if attrs, ok := rewriteAttrs[tag]; ok {
		for _, attr := range attrs {
			val, present := getAttr(n, attr)
			if !present {
				continue
			}
			if attr == "srcset" {
				setAttr(n, attr, rewriteSrcset(base, val))
			} else {
				setAttr(n, attr, rewriteOneHTMLURL(base, val))
			}
		}
		removeAttr(n, "integrity")
	}

	for _, attr := range dataURLAttrs {
		if val, ok := getAttr(n, attr); ok {
			setAttr(n, attr, rewriteOneHTMLURL(base, val))
		}
	}
	if val, ok := getAttr(n, dataSrcsetAttr); ok {
		setAttr(n, dataSrcsetAttr, rewriteSrcset(base, val))
	}

	if style, ok := getAttr(n, "style"); ok && strings.TrimSpace(style) != "" {
		setAttr(n, "style", RewriteInlineStyle(style, base))
	}

	if tag == "style" {
		if n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
			n.FirstChild.Data = RewriteStylesheet(n.FirstChild.Data, base)
		}
	}
}

// walk performs a preorder traversal, removing <base> and CSP <meta>
// nodes outright and otherwise delegating to rewriteNode.
func walk(n *html.Node, base string, mode Mode) {
	child := n.FirstChild
	for child != nil {
		next := child.NextSibling
		if child.Type == html.ElementNode && (child.Data == "base" || (child.Data == "meta" && isCSPMeta(child))) {
			n.RemoveChild(child)
			child = next
			continue
		}
		if child.Type == html.ElementNode {
			rewriteNode(child, base, mode)
			walk(child, base, mode)
		}
		child = next
	}
}

// RewriteHTML implements C5: parses htmlStr, rewrites it against base
// pageURL under mode, injects the runtime scripts, and re-serializes.
func RewriteHTML(htmlStr, pageURL string, mode Mode) (string, error) {
	doc, err := html.Parse(strings.NewReader(htmlStr))
	if err != nil {
		return "", err
	}

	base := determineBase(doc, pageURL)
	walk(doc, base, mode)

	if headMatches := headSelector.MatchAll(doc); len(headMatches) > 0 {
		injectScripts(headMatches[0], pageURL, mode)
	}

	var buf bytes.Buffer
	if err := html.Render(&buf, doc); err != nil {
		return "", err
	}
	return buf.String(), nil
}
