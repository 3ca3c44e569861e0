// Package ingest turns source files into persisted, embedded chunks.
package ingest

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"metro-docs-rag/internal/chunker"
	"metro-docs-rag/internal/embedding"
	"metro-docs-rag/internal/loader"
	"metro-docs-rag/internal/metrics"
	"metro-docs-rag/internal/models"
	"metro-docs-rag/internal/store"
)

// Result reports one ingestion attempt. Failures are data, not faults, so a
// multi-file run can continue past a bad file.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Chunks  int    `json:"chunks"`
}

// Ingestor parses, chunks, embeds and stores source files.
type Ingestor struct {
	embedder       embedding.Embedder
	index          store.VectorIndex
	splitter       *chunker.Splitter
	splitThreshold int
	registry       *models.RoleRegistry
	log            zerolog.Logger
	metrics        *metrics.Metrics
}

// New builds an ingestor. A zero splitThreshold uses the default policy.
func New(embedder embedding.Embedder, index store.VectorIndex, splitter *chunker.Splitter, splitThreshold int, registry *models.RoleRegistry, log zerolog.Logger) *Ingestor {
	if splitThreshold <= 0 {
		splitThreshold = chunker.DefaultSplitThreshold
	}
	if registry == nil {
		registry = models.NewRoleRegistry()
	}
	return &Ingestor{
		embedder:       embedder,
		index:          index,
		splitter:       splitter,
		splitThreshold: splitThreshold,
		registry:       registry,
		log:            log,
	}
}

// WithMetrics attaches ingestion instrumentation and returns the ingestor.
func (i *Ingestor) WithMetrics(m *metrics.Metrics) *Ingestor {
	i.metrics = m
	return i
}

// Ingest processes one file: parse into pages, split oversized pages, embed
// every chunk and write the whole set in one atomic batch. All errors come
// back as a structured failure, never a panic or raw fault.
func (i *Ingestor) Ingest(ctx context.Context, path, department string, allowedRoles []string) Result {
	if len(allowedRoles) == 0 {
		return i.failure(path, fmt.Errorf("allowedRoles must not be empty: a chunk no role can see is dead data"))
	}
	if department != "" && !i.registry.KnownDepartment(department) {
		// Department is descriptive, not a gate.
		i.log.Warn().Str("department", department).Str("file", path).Msg("unknown department label, passing through")
	}

	pages, err := loader.LoadFile(path, department, allowedRoles)
	if err != nil {
		return i.failure(path, err)
	}
	if len(pages) == 0 {
		return i.failure(path, fmt.Errorf("no text content found"))
	}

	var fragments []models.Document
	for _, page := range pages {
		if len([]rune(page.Content)) > i.splitThreshold {
			fragments = append(fragments, i.splitter.Split(page)...)
		} else {
			fragments = append(fragments, page)
		}
	}

	texts := make([]string, len(fragments))
	for idx, frag := range fragments {
		texts[idx] = frag.Content
	}

	embeddings, err := i.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return i.failure(path, err)
	}

	chunks := make([]models.Chunk, len(fragments))
	for idx, frag := range fragments {
		chunks[idx] = models.Chunk{
			ID:           uuid.New().String(),
			Content:      frag.Content,
			Metadata:     frag.Metadata,
			Department:   frag.Department,
			AllowedRoles: frag.AllowedRoles,
			Embedding:    embeddings[idx],
		}
	}

	if err := i.index.InsertBatch(ctx, chunks); err != nil {
		return i.failure(path, err)
	}
	if i.metrics != nil {
		i.metrics.AddIngestedChunks(len(chunks))
	}

	i.log.Info().
		Str("file", path).
		Str("department", department).
		Strs("roles", allowedRoles).
		Int("pages", len(pages)).
		Int("chunks", len(chunks)).
		Msg("ingested file")

	return Result{
		Success: true,
		Message: fmt.Sprintf("Successfully ingested: %s", path),
		Chunks:  len(chunks),
	}
}

func (i *Ingestor) failure(path string, err error) Result {
	i.log.Error().Err(err).Str("file", path).Msg("ingestion failed")
	return Result{
		Success: false,
		Message: fmt.Sprintf("Error ingesting %s: %v", path, err),
	}
}
