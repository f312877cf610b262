package parser

import (
	"strings"

	"golang.org/x/net/html"
)

func isHTML(contentType string) bool {
	return strings.HasPrefix(contentType, "text/html")
}

// scriptText returns doc with everything outside inline JavaScript
// <script> elements blanked. Line breaks survive, so every script keeps
// its line and column in the page.
func scriptText(doc string) string {
	out := []byte(doc)
	blank := func(from, to int) {
		for i := from; i < to && i < len(out); i++ {
			if out[i] != '\n' {
				out[i] = ' '
			}
		}
	}

	z := html.NewTokenizer(strings.NewReader(doc))
	off, keep := 0, false
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			break
		}
		n := len(z.Raw())
		switch tt {
		case html.StartTagToken:
			name, _ := z.TagName()
			keep = string(name) == "script" && isJavaScriptTag(z)
			blank(off, off+n)
		case html.TextToken:
			if !keep {
				blank(off, off+n)
			}
		default:
			keep = false
			blank(off, off+n)
		}
		off += n
	}
	blank(off, len(out))
	return string(out)
}

// isJavaScriptTag reports whether the current script tag holds inline
// classic or module JavaScript.
func isJavaScriptTag(z *html.Tokenizer) bool {
	for {
		key, val, more := z.TagAttr()
		switch string(key) {
		case "src":
			return false
		case "type":
			t := strings.ToLower(strings.TrimSpace(string(val)))
			if t != "" && t != "module" && !strings.Contains(t, "javascript") && !strings.Contains(t, "ecmascript") {
				return false
			}
		}
		if !more {
			return true
		}
	}
}
