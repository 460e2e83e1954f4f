package utils

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode"
)

const (
	// MaxExtractedTextSize limits extracted text across all formats (1MB)
	MaxExtractedTextSize = 1024 * 1024
)

// Document is the extracted form of an uploaded file, ready for ingestion
type Document struct {
	Format    string // "pdf", "docx", "pptx", "xlsx", "markdown", "text"
	Text      string
	WordCount int
	PageCount int // pages, slides or sheets; 0 where the format has none
}

// ExtractDocument dispatches on the filename extension and extracts text
func ExtractDocument(filename string, data []byte) (*Document, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".pdf":
		return ExtractPDF(data)
	case ".docx":
		return ExtractDOCX(data)
	case ".pptx":
		return ExtractPPTX(data)
	case ".xlsx":
		return ExtractXLSX(data)
	case ".md", ".markdown":
		return ExtractPlainText(data, "markdown")
	case ".txt":
		return ExtractPlainText(data, "text")
	default:
		return nil, fmt.Errorf("unsupported document type: %s", ext)
	}
}

// ExtractPlainText wraps raw text files; the only processing is cleanup and
// the shared size limit
func ExtractPlainText(data []byte, format string) (*Document, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty file")
	}

	text := cleanDocumentText(string(data))
	if text == "" {
		return nil, fmt.Errorf("file contains no text")
	}
	if len(text) > MaxExtractedTextSize {
		text = text[:MaxExtractedTextSize] + "\n... [Content truncated]"
	}

	return &Document{
		Format:    format,
		Text:      text,
		WordCount: countWords(text),
	}, nil
}

// cleanDocumentText strips null bytes, collapses blank-line runs and trims
func cleanDocumentText(text string) string {
	text = strings.ReplaceAll(text, "\x00", "")

	for strings.Contains(text, "\n\n\n") {
		text = strings.ReplaceAll(text, "\n\n\n", "\n\n")
	}

	return strings.TrimSpace(text)
}

// normalizeWhitespace collapses space runs while preserving newlines
func normalizeWhitespace(text string) string {
	var result strings.Builder
	lastWasSpace := false

	for _, r := range text {
		if unicode.IsSpace(r) {
			if r == '\n' {
				result.WriteRune('\n')
				lastWasSpace = false
			} else if !lastWasSpace {
				result.WriteRune(' ')
				lastWasSpace = true
			}
		} else {
			result.WriteRune(r)
			lastWasSpace = false
		}
	}

	return result.String()
}

// countWords counts words separated by whitespace or punctuation
func countWords(text string) int {
	count := 0
	inWord := false

	for _, r := range text {
		if unicode.IsSpace(r) || unicode.IsPunct(r) {
			if inWord {
				count++
				inWord = false
			}
		} else {
			inWord = true
		}
	}
	if inWord {
		count++
	}

	return count
}

// GetTextPreview returns the first maxChars of text, broken at a word
// boundary where one falls in the second half
func GetTextPreview(text string, maxChars int) string {
	if len(text) <= maxChars {
		return text
	}

	preview := text[:maxChars]
	lastSpace := strings.LastIndex(preview, " ")
	if lastSpace > maxChars/2 {
		preview = preview[:lastSpace]
	}

	return preview + "..."
}
