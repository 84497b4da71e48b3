// Package classify implements the content classifier (spec.md §4.4, C4):
// deciding html|css|js|text|json|xml|binary from a URL's suffix before a
// fetch, and from the response content-type after one. The suffix table
// and content-type switch generalize the teacher's CompressionFromParam /
// ClientVersionFromGateway param-to-enum idiom (oms/transport.go) to a
// richer classification domain.
package classify

import (
	"strings"
)

// Kind is the content classification of spec.md §4.4.
type Kind string

const (
	KindHTML   Kind = "html"
	KindCSS    Kind = "css"
	KindJS     Kind = "js"
	KindText   Kind = "text"
	KindJSON   Kind = "json"
	KindXML    Kind = "xml"
	KindBinary Kind = "binary"
)

// binaryExtensions is the URL-suffix pre-detection set (spec.md §4.4 step
// 1): images, fonts, audio, video, archives, documents, and wasm.
var binaryExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".webp": true,
	".bmp": true, ".ico": true, ".tiff": true, ".tif": true, ".avif": true,
	".svg": true, // SVG served verbatim, spec.md §8.
	".woff": true, ".woff2": true, ".ttf": true, ".otf": true, ".eot": true,
	".mp3": true, ".wav": true, ".ogg": true, ".flac": true, ".aac": true, ".m4a": true,
	".mp4": true, ".webm": true, ".mov": true, ".avi": true, ".mkv": true, ".m3u8": true, ".ts": true,
	".zip": true, ".gz": true, ".tar": true, ".rar": true, ".7z": true,
	".pdf": true, ".doc": true, ".docx": true, ".xls": true, ".xlsx": true, ".ppt": true, ".pptx": true,
	".wasm": true,
	".bin": true, ".exe": true, ".dmg": true,
}

// ClassifyBySuffix implements spec.md §4.4 step 1: pre-detect binary by
// URL path suffix, before the fetch is even made, so the dispatcher can
// take the byte-preserving path.
func ClassifyBySuffix(urlPath string) (Kind, bool) {
	path := urlPath
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	dot := strings.LastIndexByte(path, '.')
	if dot < 0 {
		return "", false
	}
	ext := strings.ToLower(path[dot:])
	if binaryExtensions[ext] {
		return KindBinary, true
	}
	return "", false
}

// binaryContentTypePrefixes and binaryContentTypeExact implement spec.md
// §4.4's content-type half of the binary rule.
var binaryContentTypePrefixes = []string{
	"image/", "audio/", "video/", "font/", "application/vnd.", "application/x-font",
}

var binaryContentTypeExact = map[string]bool{
	"application/octet-stream": true,
	"application/pdf":          true,
	"application/zip":          true,
	"application/gzip":         true,
	"application/wasm":         true,
}

// ClassifyByContentType implements spec.md §4.4 step 2: post-classify a
// fetched response by its Content-Type header, after stripping any
// parameters (e.g. "; charset=utf-8").
func ClassifyByContentType(contentType string) Kind {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	if ct == "" {
		return KindBinary
	}
	if ct == "image/svg+xml" {
		return KindBinary
	}
	if binaryContentTypeExact[ct] {
		return KindBinary
	}
	for _, prefix := range binaryContentTypePrefixes {
		if strings.HasPrefix(ct, prefix) {
			return KindBinary
		}
	}
	switch {
	case ct == "text/html", ct == "application/xhtml+xml":
		return KindHTML
	case ct == "text/css":
		return KindCSS
	case strings.Contains(ct, "javascript"), strings.Contains(ct, "ecmascript"):
		return KindJS
	case ct == "application/json", strings.HasSuffix(ct, "+json"):
		return KindJSON
	case ct == "application/xml", ct == "text/xml", strings.HasSuffix(ct, "+xml"):
		return KindXML
	case strings.HasPrefix(ct, "text/"):
		return KindText
	default:
		return KindBinary
	}
}

// IsRewritable reports whether the rewrite pipeline (C5/C6/C7) handles k,
// as opposed to a direct byte passthrough.
func IsRewritable(k Kind) bool {
	switch k {
	case KindHTML, KindCSS, KindJS:
		return true
	default:
		return false
	}
}
