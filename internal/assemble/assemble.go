// Package assemble merges per-chunk engine output into one Markdown document
// with a single asset directory.
package assemble

import (
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/dgallion1/docmd/internal/dispatch"
	"github.com/dgallion1/docmd/internal/document"
	"github.com/dgallion1/docmd/internal/engine"
)

// OutputAsset is an asset at its final path relative to the Markdown file.
type OutputAsset struct {
	Path  string `json:"path"`
	Chunk int    `json:"chunk"`
	Data  []byte `json:"-"`
}

// Result is the converted form of one document.
type Result struct {
	Document  string             `json:"document"`
	Stem      string             `json:"stem"`
	Markdown  string             `json:"markdown"`
	Assets    []OutputAsset      `json:"assets"`
	Outcomes  []dispatch.Outcome `json:"-"`
	Succeeded int                `json:"succeeded"`
	Failed    int                `json:"failed"`
	Usage     engine.Usage       `json:"usage"`
}

// Options adjust assembly.
type Options struct {
	// StitchNotice prefixes documents converted in more than one chunk with
	// a note saying so.
	StitchNotice bool
}

// Assemble joins outcomes in chunk-index order. Failed chunks become an
// inline marker so partial failure is visible in the document itself.
func Assemble(doc *document.Document, outcomes []dispatch.Outcome, opts Options) *Result {
	sorted := make([]dispatch.Outcome, len(outcomes))
	copy(sorted, outcomes)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ChunkIndex < sorted[j].ChunkIndex })

	stem := "document"
	name := ""
	if doc != nil {
		stem = doc.Stem()
		name = doc.Name
	}
	res := &Result{Document: name, Stem: stem, Outcomes: sorted}

	var bodies []string
	for _, o := range sorted {
		if !o.OK() {
			res.Failed++
			bodies = append(bodies, FailureMarker(o.ChunkIndex, o.Failure))
			continue
		}
		res.Succeeded++
		if o.Response == nil {
			continue
		}
		res.Usage = res.Usage.Add(o.Response.Usage)

		md, assets := reroot(stem, o.ChunkIndex, o.Response.Markdown, o.Response.Assets)
		res.Assets = append(res.Assets, assets...)
		if body := strings.Trim(md, "\r\n"); strings.TrimSpace(body) != "" {
			bodies = append(bodies, body)
		}
	}

	if opts.StitchNotice && len(sorted) > 1 {
		notice := fmt.Sprintf("_Note: Source document '%s' exceeded per-request limits and was processed in %d stitched chunks._", name, len(sorted))
		bodies = append([]string{notice}, bodies...)
	}

	if len(bodies) > 0 {
		res.Markdown = strings.Join(bodies, "\n\n") + "\n"
	}
	return res
}

// dashRun matches the runs that could close an HTML comment early.
var dashRun = regexp.MustCompile(`-{2,}`)

// FailureMarker renders the placeholder for a failed chunk. The message
// never contains "--", so it cannot end the comment.
func FailureMarker(index int, f *dispatch.Failure) string {
	kind, msg := dispatch.KindEngine, ""
	if f != nil {
		kind, msg = f.Kind, f.Message
	}
	msg = strings.Join(strings.Fields(msg), " ")
	msg = dashRun.ReplaceAllString(msg, "-")
	return fmt.Sprintf("<!-- docmd: chunk %d failed (%s): %s -->", index, kind, msg)
}

// AssetDir is the directory, relative to the Markdown file, holding a
// document's assets.
func AssetDir(stem string) string {
	return stem + "_assets"
}

// reroot assigns every asset of one chunk its final path and rewrites the
// chunk's references to match.
func reroot(stem string, chunk int, md string, assets []engine.Asset) (string, []OutputAsset) {
	if len(assets) == 0 {
		return md, nil
	}

	used := map[string]bool{}
	byRef := map[string]string{}
	out := make([]OutputAsset, 0, len(assets))
	for _, a := range assets {
		final := uniqueName(fmt.Sprintf("%d-%s", chunk, path.Base(cleanName(a.Name))), used)
		p := path.Join(AssetDir(stem), final)
		out = append(out, OutputAsset{Path: p, Chunk: chunk, Data: a.Data})
		if key := normalizeRef(cleanName(a.Name)); byRef[key] == "" {
			byRef[key] = p
		}
	}

	repl := map[string]string{}
	for _, ref := range references(md) {
		if p, ok := byRef[normalizeRef(ref)]; ok {
			repl[ref] = p
		}
	}
	return rewrite(md, repl), out
}

func cleanName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	if name == "" || strings.HasSuffix(name, "/") {
		name += "asset"
	}
	return name
}

// uniqueName appends -1, -2, ... before the extension until name is unused.
func uniqueName(name string, used map[string]bool) string {
	candidate := name
	ext := path.Ext(name)
	base := strings.TrimSuffix(name, ext)
	for n := 1; used[candidate]; n++ {
		candidate = fmt.Sprintf("%s-%d%s", base, n, ext)
	}
	used[candidate] = true
	return candidate
}
