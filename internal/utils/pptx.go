package utils

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"path"
	"sort"
	"strconv"
	"strings"
)

const (
	// MaxPPTXSlides limits the number of slides to process
	MaxPPTXSlides = 200
)

// ValidatePPTX checks if a file is a valid PPTX by checking ZIP structure
func ValidatePPTX(data []byte) error {
	reader := bytes.NewReader(data)
	zipReader, err := zip.NewReader(reader, int64(len(data)))
	if err != nil {
		return fmt.Errorf("invalid PPTX: not a valid ZIP file: %w", err)
	}

	hasContentTypes := false
	hasSlides := false
	for _, file := range zipReader.File {
		if file.Name == "[Content_Types].xml" {
			hasContentTypes = true
		}
		if strings.HasPrefix(file.Name, "ppt/slides/slide") && strings.HasSuffix(file.Name, ".xml") {
			hasSlides = true
		}
	}

	if !hasContentTypes {
		return fmt.Errorf("invalid PPTX: missing [Content_Types].xml")
	}
	if !hasSlides {
		return fmt.Errorf("invalid PPTX: no slides found")
	}
	return nil
}

// ExtractPPTX extracts text from a PPTX file, slides in order
func ExtractPPTX(data []byte) (*Document, error) {
	reader := bytes.NewReader(data)
	zipReader, err := zip.NewReader(reader, int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open PPTX: %w", err)
	}

	type slideFile struct {
		num  int
		file *zip.File
	}
	var slides []slideFile

	for _, file := range zipReader.File {
		if strings.HasPrefix(file.Name, "ppt/slides/slide") && strings.HasSuffix(file.Name, ".xml") {
			// "ppt/slides/slide12.xml" -> 12
			numStr := strings.TrimSuffix(strings.TrimPrefix(path.Base(file.Name), "slide"), ".xml")
			num, err := strconv.Atoi(numStr)
			if err != nil {
				continue
			}
			slides = append(slides, slideFile{num: num, file: file})
		}
	}

	sort.Slice(slides, func(i, j int) bool {
		return slides[i].num < slides[j].num
	})
	if len(slides) > MaxPPTXSlides {
		slides = slides[:MaxPPTXSlides]
	}

	var textBuilder strings.Builder
	for _, slide := range slides {
		rc, err := slide.file.Open()
		if err != nil {
			continue
		}
		content, readErr := io.ReadAll(rc)
		rc.Close()
		if readErr != nil {
			continue
		}

		// a:p is a DrawingML paragraph
		slideText := extractParagraphs(content, func(name xml.Name) bool {
			return name.Local == "p" && strings.Contains(name.Space, "drawingml")
		})
		if slideText != "" {
			fmt.Fprintf(&textBuilder, "\n--- Slide %d ---\n", slide.num)
			textBuilder.WriteString(slideText)
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
		return nil, fmt.Errorf("PPTX contains no extractable text")
	}

	return &Document{
		Format:    "pptx",
		Text:      extractedText,
		WordCount: countWords(extractedText),
		PageCount: len(slides),
	}, nil
}
