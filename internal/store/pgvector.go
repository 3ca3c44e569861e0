// Package store persists chunks in PostgreSQL with the pgvector extension
// and serves role-scoped nearest-neighbour queries.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
	"github.com/rs/zerolog"

	"metro-docs-rag/internal/models"
)

// VectorIndex is the storage capability consumed by the ingestor and
// retriever. Writes are batch-atomic; reads never mutate.
type VectorIndex interface {
	InsertBatch(ctx context.Context, chunks []models.Chunk) error
	QueryNearest(ctx context.Context, embedding []float32, k int, role string, filter map[string]any) ([]models.RetrievedDocument, error)
}

const defaultQueryTimeout = 10 * time.Second

// DB is a pgvector-backed VectorIndex.
type DB struct {
	Pool       *pgxpool.Pool
	table      string
	dimensions int
	timeout    time.Duration
	log        zerolog.Logger
}

// New connects to PostgreSQL, registers the pgvector types and verifies the
// extension is installed.
func New(ctx context.Context, connStr string, dimensions int, log zerolog.Logger) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	poolConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	var extExists bool
	err = pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM pg_extension WHERE extname = 'vector')",
	).Scan(&extExists)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to check pgvector extension: %w", err)
	}
	if !extExists {
		pool.Close()
		return nil, fmt.Errorf("pgvector extension not installed - run: CREATE EXTENSION vector")
	}

	return &DB{
		Pool:       pool,
		table:      "documents",
		dimensions: dimensions,
		timeout:    defaultQueryTimeout,
		log:        log,
	}, nil
}

// Dimensions returns the configured vector column width.
func (db *DB) Dimensions() int {
	return db.dimensions
}

// Initialize sets up the documents table and its indices.
func (db *DB) Initialize(ctx context.Context) error {
	_, err := db.Pool.Exec(ctx, fmt.Sprintf(`
        CREATE TABLE IF NOT EXISTS %s (
            id UUID PRIMARY KEY,
            content TEXT NOT NULL,
            metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
            source TEXT NOT NULL,
            page INTEGER NOT NULL,
            department TEXT,
            allowed_roles TEXT[] NOT NULL,
            embedding vector(%d) NOT NULL
        )
    `, db.table, db.dimensions))
	if err != nil {
		return fmt.Errorf("failed to create %s table: %w", db.table, err)
	}

	_, err = db.Pool.Exec(ctx, fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s_embedding_idx ON %s
		USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100)
	`, db.table, db.table))
	if err != nil {
		return fmt.Errorf("failed to create vector index: %w", err)
	}

	_, err = db.Pool.Exec(ctx, fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s_allowed_roles_idx ON %s USING GIN (allowed_roles);
		CREATE INDEX IF NOT EXISTS %s_source_idx ON %s (source);
	`, db.table, db.table, db.table, db.table))
	if err != nil {
		return fmt.Errorf("failed to create additional indices: %w", err)
	}

	return nil
}

// InsertBatch writes all chunks in a single transaction: either every chunk
// becomes visible to subsequent queries or none does. Chunks with no allowed
// roles or a wrong embedding width are rejected before anything is written.
func (db *DB) InsertBatch(ctx context.Context, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	for i, chunk := range chunks {
		if len(chunk.AllowedRoles) == 0 {
			return fmt.Errorf("chunk %d (%s p.%d) has no allowed roles and would be unreachable",
				i, chunk.Metadata.Source, chunk.Metadata.Page)
		}
		if len(chunk.Embedding) != db.dimensions {
			return fmt.Errorf("chunk %d embedding dimension %d does not match vector column width %d",
				i, len(chunk.Embedding), db.dimensions)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, db.timeout)
	defer cancel()

	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	insertSQL := fmt.Sprintf(`
        INSERT INTO %s (id, content, metadata, source, page, department, allowed_roles, embedding)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
    `, db.table)

	for _, chunk := range chunks {
		metadataJSON, err := marshalMetadata(chunk)
		if err != nil {
			return err
		}
		batch.Queue(insertSQL,
			chunk.ID,
			chunk.Content,
			metadataJSON,
			chunk.Metadata.Source,
			chunk.Metadata.Page,
			chunk.Department,
			chunk.AllowedRoles,
			pgvector.NewVector(chunk.Embedding),
		)
	}

	results := tx.SendBatch(ctx, batch)
	inserted := 0
	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			results.Close()
			db.log.Error().Err(err).
				Int("inserted", inserted).
				Int("total", batch.Len()).
				Msg("batch insert failed mid-way, rolling back")
			return fmt.Errorf("failed to insert chunk %d of %d: %w", i+1, batch.Len(), err)
		}
		inserted++
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("failed to close batch results: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		db.log.Error().Err(err).
			Int("inserted", inserted).
			Msg("commit failed after full batch insert, chunks not visible")
		return fmt.Errorf("failed to commit batch: %w", err)
	}

	return nil
}

// QueryNearest returns the k chunks nearest to the embedding that the role
// is authorized to see, optionally constrained by a metadata containment
// filter. Ties on distance fall back to id order so identical inputs always
// produce identical output.
func (db *DB) QueryNearest(ctx context.Context, embedding []float32, k int, role string, filter map[string]any) ([]models.RetrievedDocument, error) {
	filterJSON, err := marshalFilter(filter)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, db.timeout)
	defer cancel()

	querySQL := fmt.Sprintf(`
		SELECT content, metadata, source, page, department,
		       1 - (embedding <=> $1) AS similarity
		FROM %s
		WHERE $2 = ANY(allowed_roles)
		  AND ($3::jsonb IS NULL OR metadata @> $3::jsonb)
		ORDER BY embedding <=> $1, id
		LIMIT $4
	`, db.table)

	rows, err := db.Pool.Query(ctx, querySQL,
		pgvector.NewVector(embedding),
		role,
		filterJSON,
		k,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query similar chunks: %w", err)
	}
	defer rows.Close()

	var docs []models.RetrievedDocument
	for rows.Next() {
		var (
			doc          models.RetrievedDocument
			metadataJSON []byte
			department   *string
		)
		if err := rows.Scan(
			&doc.Content,
			&metadataJSON,
			&doc.Metadata.Source,
			&doc.Metadata.Page,
			&department,
			&doc.Score,
		); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		if department != nil {
			doc.Department = *department
		}
		doc.Metadata.Extra = extraFields(metadataJSON)
		docs = append(docs, doc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return docs, nil
}

// Health verifies connectivity and the pgvector extension.
func (db *DB) Health(ctx context.Context) error {
	var one int
	if err := db.Pool.QueryRow(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("database connectivity check failed: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (db *DB) Close() {
	db.Pool.Close()
}

// marshalMetadata builds the JSONB column payload: the caller-supplied extra
// fields plus source, page and department so metadata filters can match on
// any of them.
func marshalMetadata(chunk models.Chunk) ([]byte, error) {
	merged := make(map[string]any, len(chunk.Metadata.Extra)+3)
	for key, value := range chunk.Metadata.Extra {
		merged[key] = value
	}
	merged["source"] = chunk.Metadata.Source
	merged["page"] = chunk.Metadata.Page
	if chunk.Department != "" {
		merged["department"] = chunk.Department
	}

	out, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata for %s p.%d: %w",
			chunk.Metadata.Source, chunk.Metadata.Page, err)
	}
	return out, nil
}

// marshalFilter converts the caller's filter predicate into a JSONB
// containment argument. A nil or empty filter becomes SQL NULL.
func marshalFilter(filter map[string]any) ([]byte, error) {
	if len(filter) == 0 {
		return nil, nil
	}
	out, err := json.Marshal(filter)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata filter: %w", err)
	}
	return out, nil
}

// extraFields strips the duplicated top-level columns back out of the JSONB
// payload, leaving only the caller-supplied metadata.
func extraFields(metadataJSON []byte) map[string]any {
	if len(metadataJSON) == 0 {
		return nil
	}
	var all map[string]any
	if err := json.Unmarshal(metadataJSON, &all); err != nil {
		return nil
	}
	delete(all, "source")
	delete(all, "page")
	delete(all, "department")
	if len(all) == 0 {
		return nil
	}
	return all
}
