package utils

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

const wordprocessingNS = "http://schemas.openxmlformats.org/wordprocessingml/2006/main"

// ValidateDOCX checks if a file is a valid DOCX by checking ZIP structure
func ValidateDOCX(data []byte) error {
	reader := bytes.NewReader(data)
	zipReader, err := zip.NewReader(reader, int64(len(data)))
	if err != nil {
		return fmt.Errorf("invalid DOCX: not a valid ZIP file: %w", err)
	}

	hasContentTypes := false
	hasDocument := false
	for _, file := range zipReader.File {
		if file.Name == "[Content_Types].xml" {
			hasContentTypes = true
		}
		if file.Name == "word/document.xml" {
			hasDocument = true
		}
	}

	if !hasContentTypes {
		return fmt.Errorf("invalid DOCX: missing [Content_Types].xml")
	}
	if !hasDocument {
		return fmt.Errorf("invalid DOCX: missing word/document.xml")
	}
	return nil
}

// ExtractDOCX extracts text from a DOCX file
func ExtractDOCX(data []byte) (*Document, error) {
	reader := bytes.NewReader(data)
	zipReader, err := zip.NewReader(reader, int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open DOCX: %w", err)
	}

	var textBuilder strings.Builder
	for _, file := range zipReader.File {
		if file.Name == "word/document.xml" {
			rc, err := file.Open()
			if err != nil {
				return nil, fmt.Errorf("failed to open document.xml: %w", err)
			}
			content, readErr := io.ReadAll(rc)
			rc.Close()
			if readErr != nil {
				return nil, fmt.Errorf("failed to read document.xml: %w", readErr)
			}

			textBuilder.WriteString(extractParagraphs(content, func(name xml.Name) bool {
				return name.Local == "p" && name.Space == wordprocessingNS
			}))
			break
		}
	}

	extractedText := cleanDocumentText(textBuilder.String())
	if len(extractedText) > MaxExtractedTextSize {
		extractedText = extractedText[:MaxExtractedTextSize] + "\n... [Content truncated]"
	}
	if extractedText == "" {
		return nil, fmt.Errorf("DOCX contains no extractable text")
	}

	wordCount := countWords(extractedText)

	// Roughly 500 words per printed page
	pageCount := (wordCount / 500) + 1

	return &Document{
		Format:    "docx",
		Text:      extractedText,
		WordCount: wordCount,
		PageCount: pageCount,
	}, nil
}

// extractParagraphs walks Office XML and joins character data inside elements
// the isParagraph predicate matches, one line per paragraph
func extractParagraphs(xmlContent []byte, isParagraph func(xml.Name) bool) string {
	var textBuilder strings.Builder
	decoder := xml.NewDecoder(bytes.NewReader(xmlContent))

	inParagraph := false
	paragraphText := strings.Builder{}

	for {
		token, err := decoder.Token()
		if err != nil {
			break
		}

		switch t := token.(type) {
		case xml.StartElement:
			if isParagraph(t.Name) {
				inParagraph = true
				paragraphText.Reset()
			}
		case xml.EndElement:
			if isParagraph(t.Name) {
				if inParagraph && paragraphText.Len() > 0 {
					textBuilder.WriteString(paragraphText.String())
					textBuilder.WriteString("\n")
				}
				inParagraph = false
			}
		case xml.CharData:
			text := strings.TrimSpace(string(t))
			if text != "" && inParagraph {
				if paragraphText.Len() > 0 {
					paragraphText.WriteString(" ")
				}
				paragraphText.WriteString(text)
			}
		}
	}

	return textBuilder.String()
}
