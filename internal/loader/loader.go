// Package loader turns source files into per-page documents.
package loader

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"

	"metro-docs-rag/internal/models"
)

// LoadFile parses a source file into one document per page, each tagged with
// the supplied department and role set. PDFs produce a document per physical
// page (1-based); any other file is treated as a single page of plain text.
func LoadFile(path, department string, allowedRoles []string) ([]models.Document, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("source file not readable: %w", err)
	}

	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		return loadPDF(path, department, allowedRoles)
	}
	return loadPlainText(path, department, allowedRoles)
}

func loadPDF(path, department string, allowedRoles []string) ([]models.Document, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer f.Close()

	source := filepath.Base(path)
	var docs []models.Document

	for pageNum := 1; pageNum <= r.NumPage(); pageNum++ {
		p := r.Page(pageNum)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to extract text from page %d: %w", pageNum, err)
		}
		text = normalizeWhitespace(text)
		if text == "" {
			continue
		}
		docs = append(docs, models.Document{
			Content:      text,
			Metadata:     models.Metadata{Source: source, Page: pageNum},
			Department:   department,
			AllowedRoles: allowedRoles,
		})
	}
	return docs, nil
}

func loadPlainText(path, department string, allowedRoles []string) ([]models.Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return nil, nil
	}
	return []models.Document{{
		Content:      text,
		Metadata:     models.Metadata{Source: filepath.Base(path), Page: 1},
		Department:   department,
		AllowedRoles: allowedRoles,
	}}, nil
}

// normalizeWhitespace collapses runs of spaces left behind by PDF text
// extraction while keeping paragraph structure.
func normalizeWhitespace(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.Join(strings.Fields(line), " ")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
