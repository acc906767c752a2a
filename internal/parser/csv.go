package parser

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/dgallion1/docmd/internal/document"
)

// CSVParser handles CSV files. Rows are grouped into batches, each rendered
// as a Markdown table that repeats the header row.
type CSVParser struct{}

const csvBatchSize = 20

func (p *CSVParser) Format() document.Format { return document.FormatCSV }

func (p *CSVParser) Parse(r io.Reader, filename string) ([]document.Page, error) {
	reader := csv.NewReader(r)
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	headers := records[0]
	dataRows := records[1:]
	if len(dataRows) == 0 {
		return []document.Page{{Text: tableHeader(headers)}}, nil
	}

	var pages []document.Page
	for i := 0; i < len(dataRows); i += csvBatchSize {
		end := min(i+csvBatchSize, len(dataRows))

		var sb strings.Builder
		sb.WriteString(tableHeader(headers))
		for _, row := range dataRows[i:end] {
			sb.WriteString("\n")
			sb.WriteString(tableRow(row, len(headers)))
		}
		pages = append(pages, document.Page{Text: sb.String()})
	}
	return pages, nil
}

func tableHeader(headers []string) string {
	sep := make([]string, len(headers))
	for i := range sep {
		sep[i] = "---"
	}
	return tableRow(headers, len(headers)) + "\n| " + strings.Join(sep, " | ") + " |"
}

// tableRow pads or keeps row to width cells and escapes pipes.
func tableRow(row []string, width int) string {
	cells := make([]string, max(width, len(row)))
	for i := range cells {
		if i < len(row) {
			cells[i] = strings.ReplaceAll(strings.TrimSpace(row[i]), "|", `\|`)
		}
	}
	return "| " + strings.Join(cells, " | ") + " |"
}
