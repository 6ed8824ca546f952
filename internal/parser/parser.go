// Package parser extracts plain text from uploaded documents. Each
// format has a dedicated extractor; content the extractor cannot read
// degrades to an empty string instead of failing the ingestion.
package parser

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/rs/zerolog/log"
	"github.com/tealeg/xlsx"
	"github.com/xuri/excelize/v2"
)

// Extract reads the file at path and returns its plain text. The
// extractor is chosen by extension; unknown extensions are read as
// plain text. Corrupt or unreadable content yields an empty string.
func Extract(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	var (
		text string
		err  error
	)
	switch ext {
	case ".pdf":
		text, err = extractPDF(path)
	case ".docx":
		text, err = extractDOCX(path)
	case ".pptx":
		text, err = extractPPTX(path)
	case ".xlsx":
		text, err = extractXLSX(path)
	case ".ods":
		text, err = extractODS(path)
	default:
		text, err = extractText(path)
	}
	if err != nil {
		log.Warn().Err(err).Str("path", path).Str("ext", ext).Msg("extraction degraded to empty text")
		return ""
	}
	return text
}

// extractPDF concatenates per-page plain text with newline separators.
// A page that cannot be read contributes an empty string; only a file
// that cannot be opened at all is an error.
func extractPDF(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return "", err
	}
	reader, err := pdf.NewReader(f, stat.Size())
	if err != nil {
		return "", err
	}

	pages := make([]string, 0, reader.NumPage())
	for i := 1; i <= reader.NumPage(); i++ {
		pageText := func() (s string) {
			defer func() {
				if r := recover(); r != nil {
					log.Warn().Str("path", path).Int("page", i).Msgf("pdf page panic: %v", r)
					s = ""
				}
			}()
			page := reader.Page(i)
			if page.V.IsNull() {
				return ""
			}
			text, err := page.GetPlainText(nil)
			if err != nil {
				log.Warn().Err(err).Str("path", path).Int("page", i).Msg("unreadable pdf page")
				return ""
			}
			return text
		}()
		pages = append(pages, pageText)
	}
	return strings.Join(pages, "\n"), nil
}

func extractDOCX(path string) (string, error) {
	r, err := docx.ReadDocxFile(path)
	if err != nil {
		return "", err
	}
	defer r.Close()
	return r.Editable().GetContent(), nil
}

func extractPPTX(path string) (string, error) {
	f, err := zip.OpenReader(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var slides []string
	for _, file := range f.File {
		if !strings.HasPrefix(file.Name, "ppt/slides/slide") {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			continue
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			continue
		}
		slides = append(slides, drawingMLText(string(data)))
	}
	return strings.Join(slides, "\n"), nil
}

func extractXLSX(path string) (string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return "", err
	}
	var text strings.Builder
	for _, sheet := range f.Sheets {
		text.WriteString(fmt.Sprintf("Sheet: %s\n", sheet.Name))
		for _, row := range sheet.Rows {
			for _, cell := range row.Cells {
				text.WriteString(cell.String() + "\t")
			}
			text.WriteString("\n")
		}
	}
	return text.String(), nil
}

func extractODS(path string) (string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var text strings.Builder
	for _, sheetName := range f.GetSheetList() {
		rows, err := f.GetRows(sheetName)
		if err != nil {
			continue
		}
		text.WriteString(fmt.Sprintf("Sheet: %s\n", sheetName))
		for _, row := range rows {
			for _, cell := range row {
				text.WriteString(cell + "\t")
			}
			text.WriteString("\n")
		}
	}
	return text.String(), nil
}

func extractText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// drawingMLText pulls the text runs out of a slide's DrawingML without
// a full XML parse; runs live inside <a:t> elements.
func drawingMLText(xmlContent string) string {
	var text strings.Builder
	parts := strings.Split(xmlContent, "<a:t>")
	for i, part := range parts {
		if i == 0 {
			continue
		}
		if end := strings.Index(part, "</a:t>"); end >= 0 {
			text.WriteString(part[:end] + " ")
		}
	}
	return text.String()
}
