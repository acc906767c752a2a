package assemble

import (
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"golang.org/x/net/html"
)

// references returns every relative link, image and <img src> destination in
// a Markdown body, in document order without duplicates.
func references(md string) []string {
	src := []byte(md)
	root := goldmark.New().Parser().Parse(text.NewReader(src))

	seen := map[string]bool{}
	var out []string
	add := func(dest string) {
		if dest == "" || seen[dest] || !isRelative(dest) {
			return
		}
		seen[dest] = true
		out = append(out, dest)
	}

	_ = ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Image:
			add(string(node.Destination))
		case *ast.Link:
			add(string(node.Destination))
		case *ast.HTMLBlock:
			var sb strings.Builder
			lines := node.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				sb.Write(seg.Value(src))
			}
			for _, s := range imgSources(sb.String()) {
				add(s)
			}
		case *ast.RawHTML:
			var sb strings.Builder
			for i := 0; i < node.Segments.Len(); i++ {
				seg := node.Segments.At(i)
				sb.Write(seg.Value(src))
			}
			for _, s := range imgSources(sb.String()) {
				add(s)
			}
		}
		return ast.WalkContinue, nil
	})
	return out
}

// imgSources extracts src attributes of <img> tags from an HTML fragment.
func imgSources(fragment string) []string {
	var out []string
	z := html.NewTokenizer(strings.NewReader(fragment))
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			return out
		}
		if tt != html.StartTagToken && tt != html.SelfClosingTagToken {
			continue
		}
		name, hasAttr := z.TagName()
		if string(name) != "img" {
			continue
		}
		for hasAttr {
			var key, val []byte
			key, val, hasAttr = z.TagAttr()
			if string(key) == "src" {
				out = append(out, string(val))
			}
		}
	}
}

func isRelative(dest string) bool {
	if strings.HasPrefix(dest, "#") || strings.HasPrefix(dest, "/") {
		return false
	}
	u, err := url.Parse(dest)
	if err != nil {
		return false
	}
	return u.Scheme == "" && u.Host == ""
}

// normalizeRef maps a reference onto the form asset names are keyed by.
func normalizeRef(dest string) string {
	if u, err := url.PathUnescape(dest); err == nil {
		dest = u
	}
	return path.Clean(strings.TrimPrefix(dest, "./"))
}

// rewrite replaces each occurrence of a reference destination in link,
// image, link-definition and <img src> positions. Text outside those
// positions is left untouched.
func rewrite(md string, repl map[string]string) string {
	for from, to := range repl {
		to = escapeDest(to)
		q := regexp.QuoteMeta(from)
		mdRe := regexp.MustCompile(`(\]\(\s*<?|(?m:^\s{0,3}\[[^\]]+\]:[ \t]*<?))` + q + `([>)\s"']|$)`)
		md = mdRe.ReplaceAllString(md, "${1}"+escapeRepl(to)+"${2}")
		htmlRe := regexp.MustCompile(`(src\s*=\s*["']?)` + q + `(["'\s/>])`)
		md = htmlRe.ReplaceAllString(md, "${1}"+escapeRepl(to)+"${2}")
	}
	return md
}

// escapeDest percent-escapes each segment of a relative path so it stays a
// valid link destination when names contain spaces or parentheses.
func escapeDest(p string) string {
	parts := strings.Split(p, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}

func escapeRepl(s string) string {
	return strings.ReplaceAll(s, "$", "$$")
}
