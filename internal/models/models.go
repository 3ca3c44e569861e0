package models

// Metadata carries the provenance of a piece of document text.
type Metadata struct {
	Source string         `json:"source"`
	Page   int            `json:"page"`
	Extra  map[string]any `json:"extra,omitempty"`
}

// Document is one page of source text plus the access-control labels it was
// ingested with. Produced by the loader, consumed by the chunker and ingestor.
type Document struct {
	Content      string   `json:"content"`
	Metadata     Metadata `json:"metadata"`
	Department   string   `json:"department"`
	AllowedRoles []string `json:"allowed_roles"`
}

// Chunk is the stored unit of retrievable text. Chunks are immutable once
// written; re-ingesting a file produces a fresh, independent set.
type Chunk struct {
	ID           string    `json:"id"`
	Content      string    `json:"content"`
	Metadata     Metadata  `json:"metadata"`
	Department   string    `json:"department"`
	AllowedRoles []string  `json:"allowed_roles"`
	Embedding    []float32 `json:"embedding"`
}

// RetrievedDocument is a chunk plus its similarity score for one query.
// Never persisted.
type RetrievedDocument struct {
	Content    string   `json:"content"`
	Metadata   Metadata `json:"metadata"`
	Department string   `json:"department,omitempty"`
	Score      float64  `json:"score"`
}

// SourceRef identifies where an answer's supporting text came from.
type SourceRef struct {
	Source string `json:"source"`
	Page   int    `json:"page"`
}

// Ref returns the document's source reference.
func (d RetrievedDocument) Ref() SourceRef {
	return SourceRef{Source: d.Metadata.Source, Page: d.Metadata.Page}
}

// AnswerResult is the response of the answer pipeline.
type AnswerResult struct {
	Answer    string              `json:"answer"`
	Sources   []SourceRef         `json:"sources"`
	Retrieved []RetrievedDocument `json:"retrieved"`
}

// WhyResult is the response of the rationale pipeline.
type WhyResult struct {
	Why      string      `json:"why"`
	Evidence []SourceRef `json:"evidence"`
}

// BriefingItem is one answered topic within a role's briefing.
type BriefingItem struct {
	Question string      `json:"question"`
	Answer   string      `json:"answer"`
	Sources  []SourceRef `json:"sources"`
}

// BriefingResult is a role's daily briefing. Items follow the static
// question-list order for the role.
type BriefingResult struct {
	Role        string         `json:"role"`
	Items       []BriefingItem `json:"items"`
	GeneratedAt string         `json:"generatedAt"`
}

// Alert is a risk query that returned supporting evidence.
type Alert struct {
	Query   string      `json:"query"`
	Answer  string      `json:"answer"`
	Sources []SourceRef `json:"sources"`
}

// AlertResult is the predictive risk alert feed.
type AlertResult struct {
	Alerts    []Alert `json:"alerts"`
	Timestamp string  `json:"timestamp"`
}
