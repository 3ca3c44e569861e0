// Package rag implements the role-aware retrieval-and-answer pipeline:
// question normalization, role-scoped retrieval, context assembly, answer
// synthesis and rationale generation.
package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"metro-docs-rag/internal/embedding"
	"metro-docs-rag/internal/llm"
	"metro-docs-rag/internal/metrics"
	"metro-docs-rag/internal/models"
	"metro-docs-rag/internal/prompts"
	"metro-docs-rag/internal/store"
)

// DefaultK is the retrieval depth when the caller does not request one.
const DefaultK = 4

// Fixed user-facing texts for the degraded paths. "No access" and "no
// relevant content" share one answer so error shape never reveals whether
// content exists for another role.
const (
	NoAccessAnswer  = "I don't have access to relevant documents for this question in your role."
	ErrorAnswer     = "I encountered an error processing your question. Please try again."
	NoDocsWhy       = "No documents were retrieved for analysis."
	ErrorWhy        = "Error generating explanation."
	maxSourceRefs   = 3
	snippetMaxRunes = 300
)

// AskRequest is one question against the corpus on behalf of a role.
type AskRequest struct {
	Question string
	Role     string
	Filter   map[string]any
	K        int
}

// WhyRequest asks for the rationale connecting previously retrieved
// documents to a question. Docs are supplied by the caller, not re-retrieved.
type WhyRequest struct {
	Question string
	Role     string
	Docs     []models.RetrievedDocument
}

// Service holds the capability clients. It retains no state between
// requests; concurrent calls are independent.
type Service struct {
	embedder embedding.Embedder
	index    store.VectorIndex
	gen      llm.Generator
	log      zerolog.Logger
	metrics  *metrics.Metrics
}

// New wires the orchestrator to its capability clients.
func New(embedder embedding.Embedder, index store.VectorIndex, gen llm.Generator, log zerolog.Logger) *Service {
	return &Service{
		embedder: embedder,
		index:    index,
		gen:      gen,
		log:      log,
	}
}

// WithMetrics attaches retrieval instrumentation and returns the service.
func (s *Service) WithMetrics(m *metrics.Metrics) *Service {
	s.metrics = m
	return s
}

// Retrieve embeds the query and returns the top-k chunks the role is
// authorized to see. An empty result is not an error.
func (s *Service) Retrieve(ctx context.Context, query string, k int, role string, filter map[string]any) ([]models.RetrievedDocument, error) {
	queryEmbedding, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	docs, err := s.index.QueryNearest(ctx, queryEmbedding, k, role, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to query index: %w", err)
	}
	if s.metrics != nil {
		s.metrics.ObserveRetrieval(len(docs))
	}
	return docs, nil
}

// Ask runs the full answer pipeline. Failures degrade to fixed answers;
// Ask never returns a fault to the caller.
func (s *Service) Ask(ctx context.Context, req AskRequest) models.AnswerResult {
	return s.answer(ctx, req, prompts.Answer, true)
}

// Brief runs the same pipeline as Ask but synthesizes an executive bullet
// summary instead of a direct answer. Used by the report generators.
func (s *Service) Brief(ctx context.Context, question, role string, k int) models.AnswerResult {
	return s.answer(ctx, AskRequest{Question: question, Role: role, K: k}, prompts.Briefing, false)
}

// answer is the shared pipeline; renderSynthesis is the call site's prompt
// contract and structured says whether its output carries a JSON record.
func (s *Service) answer(ctx context.Context, req AskRequest, renderSynthesis func(contextBlock, question string) (string, error), structured bool) models.AnswerResult {
	k := req.K
	if k <= 0 {
		k = DefaultK
	}

	standalone := s.normalize(ctx, req.Question)

	docs, err := s.Retrieve(ctx, standalone, k, req.Role, req.Filter)
	if err != nil {
		s.log.Error().Err(err).Str("role", req.Role).Msg("retrieval failed")
		return errorResult()
	}

	if len(docs) == 0 {
		return models.AnswerResult{
			Answer:    NoAccessAnswer,
			Sources:   []models.SourceRef{},
			Retrieved: []models.RetrievedDocument{},
		}
	}

	prompt, err := renderSynthesis(combineDocuments(docs), req.Question)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to render synthesis prompt")
		return errorResult()
	}

	raw, err := s.gen.Generate(ctx, prompt)
	if err != nil {
		s.log.Error().Err(err).Str("role", req.Role).Msg("answer synthesis failed")
		return errorResult()
	}

	answer := raw
	sources := fallbackSources(docs, k)
	if structured {
		if parsed, ok := parseStructuredAnswer(raw); ok {
			answer = parsed.Answer
			if len(parsed.Sources) > 0 {
				sources = parsed.Sources
			}
		}
	}

	return models.AnswerResult{
		Answer:    answer,
		Sources:   sources,
		Retrieved: docs,
	}
}

// Why produces a short causal narrative over caller-supplied documents.
func (s *Service) Why(ctx context.Context, req WhyRequest) models.WhyResult {
	if len(req.Docs) == 0 {
		return models.WhyResult{Why: NoDocsWhy, Evidence: []models.SourceRef{}}
	}

	prompt, err := prompts.Why(req.Question, req.Role, combineSnippets(req.Docs))
	if err != nil {
		s.log.Error().Err(err).Msg("failed to render why prompt")
		return models.WhyResult{Why: ErrorWhy, Evidence: []models.SourceRef{}}
	}

	explanation, err := s.gen.Generate(ctx, prompt)
	if err != nil {
		s.log.Error().Err(err).Str("role", req.Role).Msg("rationale generation failed")
		return models.WhyResult{Why: ErrorWhy, Evidence: []models.SourceRef{}}
	}

	evidence := make([]models.SourceRef, 0, len(req.Docs))
	for _, doc := range req.Docs {
		evidence = append(evidence, doc.Ref())
	}
	return models.WhyResult{Why: explanation, Evidence: evidence}
}

// normalize rewrites the question to stand alone. A rewrite failure is not
// fatal; the raw question is used unchanged.
func (s *Service) normalize(ctx context.Context, question string) string {
	prompt, err := prompts.Standalone(question)
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to render standalone prompt, using raw question")
		return question
	}

	standalone, err := s.gen.Generate(ctx, prompt)
	if err != nil {
		s.log.Warn().Err(err).Msg("standalone rewrite failed, using raw question")
		return question
	}

	standalone = strings.TrimSpace(standalone)
	if standalone == "" {
		return question
	}
	return standalone
}

func errorResult() models.AnswerResult {
	return models.AnswerResult{
		Answer:    ErrorAnswer,
		Sources:   []models.SourceRef{},
		Retrieved: []models.RetrievedDocument{},
	}
}

// fallbackSources is the default attachment when the model declares none:
// the top min(k,3) retrieved documents.
func fallbackSources(docs []models.RetrievedDocument, k int) []models.SourceRef {
	n := min(len(docs), min(k, maxSourceRefs))
	sources := make([]models.SourceRef, 0, n)
	for _, doc := range docs[:n] {
		sources = append(sources, doc.Ref())
	}
	return sources
}

// combineDocuments assembles the synthesis context block with inline
// source/page citations.
func combineDocuments(docs []models.RetrievedDocument) string {
	parts := make([]string, 0, len(docs))
	for i, doc := range docs {
		source := doc.Metadata.Source
		if source == "" {
			source = "unknown"
		}
		parts = append(parts, fmt.Sprintf("[Source %d: %s p.%d]\n%s", i+1, source, doc.Metadata.Page, doc.Content))
	}
	return strings.Join(parts, "\n\n---\n\n")
}

// combineSnippets builds the rationale prompt's evidence block, capping each
// document at a short excerpt.
func combineSnippets(docs []models.RetrievedDocument) string {
	parts := make([]string, 0, len(docs))
	for _, doc := range docs {
		source := doc.Metadata.Source
		if source == "" {
			source = "unknown"
		}
		content := doc.Content
		if runes := []rune(content); len(runes) > snippetMaxRunes {
			content = string(runes[:snippetMaxRunes]) + "..."
		}
		parts = append(parts, fmt.Sprintf("(%s p.%d) :: %s", source, doc.Metadata.Page, content))
	}
	return strings.Join(parts, "\n---\n")
}

type structuredAnswer struct {
	Answer  string             `json:"answer"`
	Sources []models.SourceRef `json:"sources"`
}

// parseStructuredAnswer attempts the declared JSON contract. Any shape
// mismatch deterministically falls back to treating the output as plain
// text; nothing is silently swallowed elsewhere.
func parseStructuredAnswer(raw string) (structuredAnswer, bool) {
	var parsed structuredAnswer
	cleaned := stripCodeFence(raw)
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
		return structuredAnswer{}, false
	}
	if strings.TrimSpace(parsed.Answer) == "" {
		return structuredAnswer{}, false
	}
	return parsed, true
}

// stripCodeFence removes a surrounding markdown fence, which models add to
// JSON output more often than not.
func stripCodeFence(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
