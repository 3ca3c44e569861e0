// Command ingest loads documents into the vector store, either one file
// from flags or a whole directory driven by a manifest.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"metro-docs-rag/internal/chunker"
	"metro-docs-rag/internal/config"
	"metro-docs-rag/internal/embedding"
	"metro-docs-rag/internal/ingest"
	"metro-docs-rag/internal/logger"
	"metro-docs-rag/internal/models"
	"metro-docs-rag/internal/store"
)

// manifestEntry describes one file in a batch run.
type manifestEntry struct {
	File       string   `json:"file"`
	Department string   `json:"department"`
	Roles      []string `json:"roles"`
}

func main() {
	var (
		file       = flag.String("file", "", "path of a single file to ingest")
		department = flag.String("department", "", "owning department label")
		roles      = flag.String("roles", "", "comma-separated roles allowed to read the file")
		all        = flag.Bool("all", false, "ingest every file listed in the data directory manifest")
		dataDir    = flag.String("data-dir", "", "directory holding documents and manifest.json (defaults to DATA_DIR)")
	)
	flag.Parse()

	if err := run(*file, *department, *roles, *all, *dataDir); err != nil {
		fmt.Fprintf(os.Stderr, "ingest: %v\n", err)
		os.Exit(1)
	}
}

func run(file, department, roles string, all bool, dataDir string) error {
	if !all && file == "" {
		return fmt.Errorf("either -file or -all is required")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if dataDir == "" {
		dataDir = cfg.DataDir
	}

	log := logger.New(cfg.LogLevel, cfg.LogPretty)

	ctx := context.Background()
	db, err := store.New(ctx, cfg.DatabaseURL, cfg.EmbeddingDim, log)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	if err := db.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	embedder, err := embedding.NewOllamaEmbedder(cfg.OllamaHost, cfg.EmbeddingModel, cfg.EmbeddingDim)
	if err != nil {
		return fmt.Errorf("failed to create embedder: %w", err)
	}

	splitter := chunker.New(cfg.ChunkSize, cfg.ChunkOverlap)
	registry := models.NewRoleRegistry(cfg.ExtraRoles...)
	ingestor := ingest.New(embedder, db, splitter, cfg.SplitThreshold, registry, log)

	if !all {
		result := ingestor.Ingest(ctx, file, department, splitRoles(roles))
		fmt.Println(result.Message)
		if !result.Success {
			os.Exit(1)
		}
		fmt.Printf("Chunks stored: %d\n", result.Chunks)
		return nil
	}

	entries, err := loadManifest(dataDir)
	if err != nil {
		return err
	}

	succeeded, failed := 0, 0
	for _, entry := range entries {
		result := ingestor.Ingest(ctx, filepath.Join(dataDir, entry.File), entry.Department, entry.Roles)
		fmt.Println(result.Message)
		if result.Success {
			succeeded++
		} else {
			failed++
		}
	}

	fmt.Printf("Done: %d succeeded, %d failed\n", succeeded, failed)
	if failed > 0 {
		os.Exit(1)
	}
	return nil
}

func loadManifest(dataDir string) ([]manifestEntry, error) {
	path := filepath.Join(dataDir, "manifest.json")
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %s: %w", path, err)
	}

	var entries []manifestEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("manifest %s lists no files", path)
	}
	return entries, nil
}

func splitRoles(raw string) []string {
	var roles []string
	for _, role := range strings.Split(raw, ",") {
		if role = strings.TrimSpace(role); role != "" {
			roles = append(roles, role)
		}
	}
	return roles
}
