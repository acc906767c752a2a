package claude

import (
	"fmt"
	"strings"
)

const SystemPrompt = `You convert document text into clean GitHub-flavored Markdown.

Rules:
- Preserve every piece of content. Do not summarize, translate or add commentary.
- Recover structure: headings, lists, tables, code blocks, emphasis.
- Rejoin words hyphenated across line breaks and drop running headers, footers and page numbers.
- The input may be one part of a longer document. Do not add a title or closing remarks that are not in the text.

Respond with ONLY the Markdown, no surrounding code fence.`

// BuildPrompt frames a single text window. index is zero-based.
func BuildPrompt(docName string, index, total int, text string) string {
	var sb strings.Builder
	if docName != "" {
		sb.WriteString(fmt.Sprintf("Document: %q\n", docName))
	}
	if total > 1 {
		sb.WriteString(fmt.Sprintf("Part %d of %d. Consecutive parts overlap slightly; convert this part in full.\n", index+1, total))
	}
	sb.WriteString("---\n")
	sb.WriteString(text)
	return sb.String()
}
