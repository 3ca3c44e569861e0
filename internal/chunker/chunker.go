// Package chunker splits long page text into overlapping windows.
package chunker

import (
	"metro-docs-rag/internal/models"
)

// Default splitting parameters. Pages at or below SplitThreshold characters
// are ingested whole.
const (
	DefaultChunkSize      = 1000
	DefaultChunkOverlap   = 200
	DefaultSplitThreshold = 1500
)

// Splitter produces windows of up to ChunkSize characters sharing
// ChunkOverlap characters between consecutive windows. Cuts prefer natural
// text boundaries over hard character positions.
type Splitter struct {
	ChunkSize    int
	ChunkOverlap int
}

// New returns a Splitter with sane bounds applied.
func New(chunkSize, chunkOverlap int) *Splitter {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if chunkOverlap < 0 {
		chunkOverlap = DefaultChunkOverlap
	}
	// Overlap must stay below chunk size or splitting cannot advance.
	if chunkOverlap >= chunkSize {
		chunkOverlap = chunkSize / 4
	}
	return &Splitter{ChunkSize: chunkSize, ChunkOverlap: chunkOverlap}
}

// Split breaks a page into overlapping fragments, each inheriting the page's
// full metadata, department and role set. Empty pages and pages no longer
// than the overlap yield zero fragments, never an empty one.
func (s *Splitter) Split(doc models.Document) []models.Document {
	runes := []rune(doc.Content)
	if len(runes) == 0 || len(runes) <= s.ChunkOverlap {
		return nil
	}

	var out []models.Document
	start := 0
	for start < len(runes) {
		end := start + s.ChunkSize
		if end >= len(runes) {
			end = len(runes)
		} else {
			end = s.cut(runes, start, end)
		}

		out = append(out, models.Document{
			Content:      string(runes[start:end]),
			Metadata:     doc.Metadata,
			Department:   doc.Department,
			AllowedRoles: doc.AllowedRoles,
		})

		if end == len(runes) {
			break
		}
		start = end - s.ChunkOverlap
	}
	return out
}

// cut picks the window end, preferring paragraph, then sentence, then word
// boundaries, falling back to the hard position. The cut never lands at or
// before start+overlap so every window advances the scan.
func (s *Splitter) cut(runes []rune, start, end int) int {
	floor := start + s.ChunkOverlap + 1
	if floor <= start {
		floor = start + 1
	}

	for i := end; i > floor; i-- {
		if i >= 2 && runes[i-1] == '\n' && runes[i-2] == '\n' {
			return i
		}
	}
	for i := end; i > floor; i-- {
		c := runes[i-1]
		if (c == ' ' || c == '\n') && i >= 2 {
			switch runes[i-2] {
			case '.', '!', '?':
				return i
			}
		}
	}
	for i := end; i > floor; i-- {
		if runes[i-1] == ' ' || runes[i-1] == '\n' {
			return i
		}
	}
	return end
}
