package rag

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metro-docs-rag/internal/models"
)

type fakeEmbedder struct {
	dim int
	err error
}

func (f *fakeEmbedder) EmbedQuery(_ context.Context, _ string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return make([]float32, f.dim), nil
}

func (f *fakeEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		v, err := f.EmbedQuery(ctx, texts[i])
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (f *fakeEmbedder) Dimensions() int { return f.dim }

// fakeIndex serves stored chunks in insertion order, honoring the role
// constraint the way the real store does server-side.
type fakeIndex struct {
	chunks []models.Chunk
	err    error
}

func (f *fakeIndex) InsertBatch(_ context.Context, chunks []models.Chunk) error {
	if f.err != nil {
		return f.err
	}
	f.chunks = append(f.chunks, chunks...)
	return nil
}

func (f *fakeIndex) QueryNearest(_ context.Context, _ []float32, k int, role string, _ map[string]any) ([]models.RetrievedDocument, error) {
	if f.err != nil {
		return nil, f.err
	}
	var docs []models.RetrievedDocument
	for i, chunk := range f.chunks {
		if !slices.Contains(chunk.AllowedRoles, role) {
			continue
		}
		docs = append(docs, models.RetrievedDocument{
			Content:    chunk.Content,
			Metadata:   chunk.Metadata,
			Department: chunk.Department,
			Score:      1.0 - float64(i)*0.01,
		})
		if len(docs) == k {
			break
		}
	}
	return docs, nil
}

// fakeGen routes on the distinct prompt contract of each call site.
type fakeGen struct {
	standalone     string
	answer         string
	why            string
	briefing       string
	failSites      map[string]error
	standaloneCall int
	answerCall     int
	whyCall        int
	briefingCall   int
}

func (f *fakeGen) Generate(_ context.Context, prompt string) (string, error) {
	switch {
	case strings.Contains(prompt, "standalone question:"):
		f.standaloneCall++
		if err := f.failSites["standalone"]; err != nil {
			return "", err
		}
		return f.standalone, nil
	case strings.Contains(prompt, "JSON answer:"):
		f.answerCall++
		if err := f.failSites["answer"]; err != nil {
			return "", err
		}
		return f.answer, nil
	case strings.Contains(prompt, "Executive Summary:"):
		f.briefingCall++
		if err := f.failSites["briefing"]; err != nil {
			return "", err
		}
		return f.briefing, nil
	case strings.Contains(prompt, "explanation for the"):
		f.whyCall++
		if err := f.failSites["why"]; err != nil {
			return "", err
		}
		return f.why, nil
	}
	return "", errors.New("unknown prompt")
}

func opsChunk() models.Chunk {
	return models.Chunk{
		ID:           "c1",
		Content:      "Platform doors close automatically",
		Metadata:     models.Metadata{Source: "ops.pdf", Page: 2},
		Department:   "Operations",
		AllowedRoles: []string{"StationController"},
	}
}

func newService(index *fakeIndex, gen *fakeGen) *Service {
	return New(&fakeEmbedder{dim: 3}, index, gen, zerolog.Nop())
}

func TestAskAnswersWithinRole(t *testing.T) {
	index := &fakeIndex{chunks: []models.Chunk{opsChunk()}}
	gen := &fakeGen{
		standalone: "How do platform doors work?",
		answer:     `{"answer":"Platform doors close automatically when a train departs.","sources":[{"source":"ops.pdf","page":2}]}`,
	}
	svc := newService(index, gen)

	result := svc.Ask(context.Background(), AskRequest{
		Question: "How do platform doors work?",
		Role:     "StationController",
	})

	assert.NotEmpty(t, result.Answer)
	assert.NotEqual(t, NoAccessAnswer, result.Answer)
	require.Len(t, result.Sources, 1)
	assert.Equal(t, models.SourceRef{Source: "ops.pdf", Page: 2}, result.Sources[0])
	require.Len(t, result.Retrieved, 1)
	assert.Equal(t, "Platform doors close automatically", result.Retrieved[0].Content)
}

func TestAskOutsideRoleReturnsNoAccessFallback(t *testing.T) {
	index := &fakeIndex{chunks: []models.Chunk{opsChunk()}}
	gen := &fakeGen{standalone: "How do platform doors work?"}
	svc := newService(index, gen)

	result := svc.Ask(context.Background(), AskRequest{
		Question: "How do platform doors work?",
		Role:     "HR",
	})

	assert.Equal(t, NoAccessAnswer, result.Answer)
	assert.Empty(t, result.Sources)
	assert.Empty(t, result.Retrieved)
	assert.Zero(t, gen.answerCall, "synthesis must not run when retrieval is empty")
}

func TestAskDisjointRolesNeverLeak(t *testing.T) {
	index := &fakeIndex{chunks: []models.Chunk{
		{ID: "a", Content: "salary bands", Metadata: models.Metadata{Source: "hr.pdf", Page: 1}, AllowedRoles: []string{"HR"}},
		{ID: "b", Content: "track voltage", Metadata: models.Metadata{Source: "eng.pdf", Page: 4}, AllowedRoles: []string{"Engineer"}},
	}}
	gen := &fakeGen{standalone: "q", answer: `{"answer":"ok"}`}
	svc := newService(index, gen)

	result := svc.Ask(context.Background(), AskRequest{Question: "anything", Role: "Engineer"})
	require.Len(t, result.Retrieved, 1)
	assert.Equal(t, "track voltage", result.Retrieved[0].Content)

	result = svc.Ask(context.Background(), AskRequest{Question: "anything", Role: "Procurement"})
	assert.Equal(t, NoAccessAnswer, result.Answer)
}

func TestAskNormalizeFailureDegradesToRawQuestion(t *testing.T) {
	index := &fakeIndex{chunks: []models.Chunk{opsChunk()}}
	gen := &fakeGen{
		failSites: map[string]error{"standalone": errors.New("model offline")},
		answer:    `{"answer":"Doors close automatically."}`,
	}
	svc := newService(index, gen)

	result := svc.Ask(context.Background(), AskRequest{Question: "doors?", Role: "StationController"})
	assert.Equal(t, "Doors close automatically.", result.Answer)
	assert.Equal(t, 1, gen.answerCall)
}

func TestAskSynthesisFailureReturnsApology(t *testing.T) {
	index := &fakeIndex{chunks: []models.Chunk{opsChunk()}}
	gen := &fakeGen{
		standalone: "q",
		failSites:  map[string]error{"answer": errors.New("model offline")},
	}
	svc := newService(index, gen)

	result := svc.Ask(context.Background(), AskRequest{Question: "doors?", Role: "StationController"})
	assert.Equal(t, ErrorAnswer, result.Answer)
	assert.Empty(t, result.Sources)
}

func TestAskRetrievalFailureReturnsApology(t *testing.T) {
	index := &fakeIndex{err: errors.New("store down")}
	gen := &fakeGen{standalone: "q"}
	svc := newService(index, gen)

	result := svc.Ask(context.Background(), AskRequest{Question: "doors?", Role: "StationController"})
	assert.Equal(t, ErrorAnswer, result.Answer)
	assert.Zero(t, gen.answerCall)
}

func TestAskModelDeclaredSourcesTakePrecedence(t *testing.T) {
	chunks := []models.Chunk{opsChunk()}
	chunks[0].AllowedRoles = []string{"Director"}
	index := &fakeIndex{chunks: chunks}
	gen := &fakeGen{
		standalone: "q",
		answer:     "```json\n{\"answer\":\"See the incident log.\",\"sources\":[{\"source\":\"incidents.pdf\",\"page\":7}]}\n```",
	}
	svc := newService(index, gen)

	result := svc.Ask(context.Background(), AskRequest{Question: "incidents?", Role: "Director"})
	assert.Equal(t, "See the incident log.", result.Answer)
	require.Len(t, result.Sources, 1)
	assert.Equal(t, models.SourceRef{Source: "incidents.pdf", Page: 7}, result.Sources[0])
}

func TestAskUnparseableOutputFallsBackToTopRetrieved(t *testing.T) {
	index := &fakeIndex{chunks: []models.Chunk{
		opsChunk(),
		{ID: "c2", Content: "second", Metadata: models.Metadata{Source: "b.pdf", Page: 3}, AllowedRoles: []string{"StationController"}},
		{ID: "c3", Content: "third", Metadata: models.Metadata{Source: "c.pdf", Page: 5}, AllowedRoles: []string{"StationController"}},
		{ID: "c4", Content: "fourth", Metadata: models.Metadata{Source: "d.pdf", Page: 6}, AllowedRoles: []string{"StationController"}},
	}}
	gen := &fakeGen{standalone: "q", answer: "The doors close on their own."}
	svc := newService(index, gen)

	result := svc.Ask(context.Background(), AskRequest{Question: "doors?", Role: "StationController"})
	assert.Equal(t, "The doors close on their own.", result.Answer)
	require.Len(t, result.Sources, 3, "fallback attaches at most three sources")
	assert.Equal(t, models.SourceRef{Source: "ops.pdf", Page: 2}, result.Sources[0])
	assert.Len(t, result.Retrieved, 4)
}

func TestAskSmallKLimitsFallbackSources(t *testing.T) {
	index := &fakeIndex{chunks: []models.Chunk{
		opsChunk(),
		{ID: "c2", Content: "second", Metadata: models.Metadata{Source: "b.pdf", Page: 3}, AllowedRoles: []string{"StationController"}},
	}}
	gen := &fakeGen{standalone: "q", answer: "plain text"}
	svc := newService(index, gen)

	result := svc.Ask(context.Background(), AskRequest{Question: "doors?", Role: "StationController", K: 1})
	assert.Len(t, result.Sources, 1)
	assert.Len(t, result.Retrieved, 1)
}

func TestWhyEmptyDocsIsFixedResult(t *testing.T) {
	svc := newService(&fakeIndex{}, &fakeGen{})
	result := svc.Why(context.Background(), WhyRequest{Question: "why?", Role: "Director"})
	assert.Equal(t, NoDocsWhy, result.Why)
	assert.Empty(t, result.Evidence)
}

func TestWhyCollectsEvidenceFromAllDocs(t *testing.T) {
	gen := &fakeGen{why: "The Operations report indicates the doors are automated."}
	svc := newService(&fakeIndex{}, gen)

	docs := []models.RetrievedDocument{
		{Content: "doors", Metadata: models.Metadata{Source: "ops.pdf", Page: 2}},
		{Content: strings.Repeat("long ", 200), Metadata: models.Metadata{Source: "eng.pdf", Page: 9}},
	}
	result := svc.Why(context.Background(), WhyRequest{Question: "why?", Role: "Director", Docs: docs})

	assert.Equal(t, "The Operations report indicates the doors are automated.", result.Why)
	assert.Equal(t, []models.SourceRef{
		{Source: "ops.pdf", Page: 2},
		{Source: "eng.pdf", Page: 9},
	}, result.Evidence)
	assert.Equal(t, 1, gen.whyCall)
}

func TestWhyGeneratorFailureDegrades(t *testing.T) {
	gen := &fakeGen{failSites: map[string]error{"why": errors.New("model offline")}}
	svc := newService(&fakeIndex{}, gen)

	docs := []models.RetrievedDocument{{Content: "doors", Metadata: models.Metadata{Source: "ops.pdf", Page: 2}}}
	result := svc.Why(context.Background(), WhyRequest{Question: "why?", Role: "Director", Docs: docs})
	assert.Equal(t, ErrorWhy, result.Why)
	assert.Empty(t, result.Evidence)
}

func TestBriefUsesBriefingContract(t *testing.T) {
	chunks := []models.Chunk{opsChunk()}
	chunks[0].AllowedRoles = []string{"Director"}
	index := &fakeIndex{chunks: chunks}
	gen := &fakeGen{standalone: "q", briefing: "* **Doors**: automated."}
	svc := newService(index, gen)

	result := svc.Brief(context.Background(), "Current operational status", "Director", 6)
	assert.Equal(t, "* **Doors**: automated.", result.Answer)
	assert.Equal(t, 1, gen.briefingCall)
	assert.Zero(t, gen.answerCall)
	require.Len(t, result.Sources, 1)
}

func TestCombineDocumentsCitesSourceAndPage(t *testing.T) {
	block := combineDocuments([]models.RetrievedDocument{
		{Content: "first", Metadata: models.Metadata{Source: "a.pdf", Page: 1}},
		{Content: "second", Metadata: models.Metadata{Source: "b.pdf", Page: 12}},
	})
	assert.Contains(t, block, "[Source 1: a.pdf p.1]\nfirst")
	assert.Contains(t, block, "[Source 2: b.pdf p.12]\nsecond")
	assert.Contains(t, block, "\n\n---\n\n")
}

func TestCombineSnippetsCapsLength(t *testing.T) {
	long := strings.Repeat("x", 500)
	out := combineSnippets([]models.RetrievedDocument{
		{Content: long, Metadata: models.Metadata{Source: "a.pdf", Page: 1}},
	})
	assert.Contains(t, out, "(a.pdf p.1) :: ")
	assert.True(t, strings.HasSuffix(out, "..."))
	assert.Less(t, len(out), 400)
}

func TestParseStructuredAnswer(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		ok     bool
		answer string
	}{
		{"plain json", `{"answer":"yes","sources":[]}`, true, "yes"},
		{"fenced json", "```json\n{\"answer\":\"yes\"}\n```", true, "yes"},
		{"bare fence", "```\n{\"answer\":\"yes\"}\n```", true, "yes"},
		{"plain text", "the doors close automatically", false, ""},
		{"empty answer", `{"answer":"  "}`, false, ""},
		{"broken json", `{"answer": "unterminated`, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed, ok := parseStructuredAnswer(tt.raw)
			assert.Equal(t, tt.ok, ok)
			if ok {
				assert.Equal(t, tt.answer, parsed.Answer)
			}
		})
	}
}
