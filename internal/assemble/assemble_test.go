package assemble

import (
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dgallion1/docmd/internal/dispatch"
	"github.com/dgallion1/docmd/internal/document"
	"github.com/dgallion1/docmd/internal/engine"
)

var doc = &document.Document{Name: "manual.pdf", Format: document.FormatPDF}

func ok(index int, md string, assets ...engine.Asset) dispatch.Outcome {
	return dispatch.Outcome{ChunkIndex: index, Attempts: 1, Response: &engine.Response{Markdown: md, Assets: assets}}
}

func failed(index int, kind dispatch.Kind, msg string) dispatch.Outcome {
	return dispatch.Outcome{ChunkIndex: index, Attempts: 1, Failure: &dispatch.Failure{Kind: kind, Message: msg, Attempts: 1}}
}

func TestAssemble_FailureMarkerInPosition(t *testing.T) {
	res := Assemble(doc, []dispatch.Outcome{
		ok(0, "# One\n"),
		failed(1, dispatch.KindUnauthorized, "bad key"),
		ok(2, "Three"),
	}, Options{})

	want := "# One\n\n<!-- docmd: chunk 1 failed (unauthorized): bad key -->\n\nThree\n"
	require.Equal(t, want, res.Markdown)
	require.Equal(t, 2, res.Succeeded)
	require.Equal(t, 1, res.Failed)
}

func TestAssemble_SortsByChunkIndex(t *testing.T) {
	outcomes := []dispatch.Outcome{ok(0, "a"), ok(1, "b"), ok(2, "c"), ok(3, "d"), ok(4, "e")}
	want := Assemble(doc, outcomes, Options{}).Markdown
	require.Equal(t, "a\n\nb\n\nc\n\nd\n\ne\n", want)

	rng := rand.New(rand.NewPCG(1, 2))
	for range 20 {
		shuffled := append([]dispatch.Outcome(nil), outcomes...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		require.Equal(t, want, Assemble(doc, shuffled, Options{}).Markdown)
	}
}

func TestAssemble_PreservesBodyVerbatim(t *testing.T) {
	body := "## Heading\n\n| a | b |\n|---|---|\n| 1 | 2 |  \n\n    code"
	res := Assemble(doc, []dispatch.Outcome{ok(0, "\n\n"+body+"\n\n\n"), ok(1, "next")}, Options{})
	require.Equal(t, body+"\n\nnext\n", res.Markdown)
}

func TestAssemble_SkipsEmptyBodies(t *testing.T) {
	res := Assemble(doc, []dispatch.Outcome{ok(0, "a"), ok(1, "\n \n"), ok(2, "c")}, Options{})
	require.Equal(t, "a\n\nc\n", res.Markdown)
	require.Equal(t, 3, res.Succeeded)
}

func TestAssemble_AssetsRerootedAndReferencesRewritten(t *testing.T) {
	md := "Intro ![fig](images/fig.png) and ![again](./images/fig.png).\n\n" +
		"<img src=\"chart.png\" alt=\"c\">\n\n" +
		"Link to [data](table.csv) and [site](https://example.com/fig.png).\n"
	res := Assemble(doc, []dispatch.Outcome{
		ok(0, "first"),
		ok(1, md,
			engine.Asset{Name: "images/fig.png", Data: []byte{1}},
			engine.Asset{Name: "chart.png", Data: []byte{2}},
			engine.Asset{Name: "table.csv", Data: []byte{3}},
		),
	}, Options{})

	require.Len(t, res.Assets, 3)
	require.Equal(t, "manual_assets/1-fig.png", res.Assets[0].Path)
	require.Equal(t, "manual_assets/1-chart.png", res.Assets[1].Path)
	require.Equal(t, "manual_assets/1-table.csv", res.Assets[2].Path)
	for _, a := range res.Assets {
		require.Equal(t, 1, a.Chunk)
	}

	require.Contains(t, res.Markdown, "![fig](manual_assets/1-fig.png)")
	require.Contains(t, res.Markdown, "![again](manual_assets/1-fig.png)")
	require.Contains(t, res.Markdown, `<img src="manual_assets/1-chart.png"`)
	require.Contains(t, res.Markdown, "[data](manual_assets/1-table.csv)")
	require.Contains(t, res.Markdown, "[site](https://example.com/fig.png)")
}

func TestAssemble_EscapesDestinationsWithSpaces(t *testing.T) {
	spaced := &document.Document{Name: "My Report.pdf", Format: document.FormatPDF}
	res := Assemble(spaced, []dispatch.Outcome{
		ok(0, "![fig](img.png) [raw](<chart (1).png>)\n\n<img src=\"img.png\">",
			engine.Asset{Name: "img.png"}, engine.Asset{Name: "chart (1).png"}),
	}, Options{})

	require.Equal(t, "My Report_assets/0-img.png", res.Assets[0].Path)
	require.Equal(t, "My Report_assets/0-chart (1).png", res.Assets[1].Path)
	require.Contains(t, res.Markdown, "![fig](My%20Report_assets/0-img.png)")
	require.Contains(t, res.Markdown, "[raw](<My%20Report_assets/0-chart%20%281%29.png>)")
	require.Contains(t, res.Markdown, `<img src="My%20Report_assets/0-img.png">`)

	refs := references(res.Markdown)
	require.Contains(t, refs, "My%20Report_assets/0-img.png")
	require.Contains(t, refs, "My%20Report_assets/0-chart%20%281%29.png")
}

func TestAssemble_InChunkCollisionsGetSuffix(t *testing.T) {
	res := Assemble(doc, []dispatch.Outcome{
		ok(0, "x", engine.Asset{Name: "a/img.png"}, engine.Asset{Name: "b/img.png"}, engine.Asset{Name: "img.png"}),
		ok(1, "y", engine.Asset{Name: "img.png"}),
	}, Options{})

	var paths []string
	for _, a := range res.Assets {
		paths = append(paths, a.Path)
	}
	require.Equal(t, []string{
		"manual_assets/0-img.png",
		"manual_assets/0-img-1.png",
		"manual_assets/0-img-2.png",
		"manual_assets/1-img.png",
	}, paths)
}

func TestAssemble_CollidingReferencesResolveToTheirOwnAsset(t *testing.T) {
	md := "![a](a/img.png) ![b](b/img.png)"
	res := Assemble(doc, []dispatch.Outcome{
		ok(0, md, engine.Asset{Name: "a/img.png"}, engine.Asset{Name: "b/img.png"}),
	}, Options{})
	require.Equal(t, "![a](manual_assets/0-img.png) ![b](manual_assets/0-img-1.png)\n", res.Markdown)
}

func TestAssemble_StitchNotice(t *testing.T) {
	res := Assemble(doc, []dispatch.Outcome{ok(0, "a"), ok(1, "b")}, Options{StitchNotice: true})
	require.True(t, strings.HasPrefix(res.Markdown, "_Note: Source document 'manual.pdf'"))
	require.Contains(t, res.Markdown, "2 stitched chunks")

	single := Assemble(doc, []dispatch.Outcome{ok(0, "a")}, Options{StitchNotice: true})
	require.Equal(t, "a\n", single.Markdown)
}

func TestAssemble_UsageSummed(t *testing.T) {
	a, b := ok(0, "a"), ok(1, "b")
	a.Response.Usage = engine.Usage{InputTokens: 3, OutputTokens: 4}
	b.Response.Usage = engine.Usage{InputTokens: 5, OutputTokens: 6}
	res := Assemble(doc, []dispatch.Outcome{b, a}, Options{})
	require.Equal(t, engine.Usage{InputTokens: 8, OutputTokens: 10}, res.Usage)
}

func TestFailureMarker_SanitizesMessage(t *testing.T) {
	m := FailureMarker(4, &dispatch.Failure{Kind: dispatch.KindExhausted, Message: "line one\nline --> two"})
	require.Equal(t, "<!-- docmd: chunk 4 failed (exhausted): line one line -> two -->", m)

	for _, msg := range []string{"bad ---> x", "a----->b", "--", "x <!-- y --- z"} {
		m := FailureMarker(1, &dispatch.Failure{Kind: dispatch.KindEngine, Message: msg})
		body := strings.TrimSuffix(strings.TrimPrefix(m, "<!-- "), " -->")
		require.NotContains(t, body, "--", msg)
	}
}

func TestReferences(t *testing.T) {
	md := "![x](x.png)\n\n[ref]: docs/y.pdf\n\nSee [it][ref] and [anchor](#top).\n\n<p><img src='z.gif'/></p>\n"
	require.Equal(t, []string{"x.png", "docs/y.pdf", "z.gif"}, references(md))
}
