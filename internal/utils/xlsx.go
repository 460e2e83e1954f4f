package utils

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

const (
	// MaxXLSXSheets limits the number of sheets to process
	MaxXLSXSheets = 50
)

// ExtractXLSX extracts cell text from an XLSX workbook, sheet by sheet.
// Rows render as pipe-separated lines; empty rows and cells are dropped.
func ExtractXLSX(data []byte) (*Document, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to open XLSX: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("XLSX has no sheets")
	}
	if len(sheets) > MaxXLSXSheets {
		sheets = sheets[:MaxXLSXSheets]
	}

	var textBuilder strings.Builder
	for _, sheet := range sheets {
		rows, err := f.GetRows(sheet)
		if err != nil {
			// An unreadable sheet is skipped, not fatal
			continue
		}

		var sheetBuilder strings.Builder
		for _, row := range rows {
			var cells []string
			for _, cell := range row {
				cell = strings.TrimSpace(cell)
				if cell != "" {
					cells = append(cells, cell)
				}
			}
			if len(cells) > 0 {
				sheetBuilder.WriteString(strings.Join(cells, " | "))
				sheetBuilder.WriteString("\n")
			}
		}

		if sheetBuilder.Len() > 0 {
			fmt.Fprintf(&textBuilder, "\n--- Sheet: %s ---\n", sheet)
			textBuilder.WriteString(sheetBuilder.String())
		}

		if textBuilder.Len() > MaxExtractedTextSize {
			textBuilder.WriteString("\n... [Content truncated - size limit reached]")
			break
		}
	}

	extractedText := cleanDocumentText(textBuilder.String())
	if len(extractedText) > MaxExtractedTextSize {
		extractedText = extractedText[:MaxExtractedTextSize] + "\n... [Content truncated]"
	}
	if extractedText == "" {
		return nil, fmt.Errorf("XLSX contains no cell text")
	}

	return &Document{
		Format:    "xlsx",
		Text:      extractedText,
		WordCount: countWords(extractedText),
		PageCount: len(sheets),
	}, nil
}
