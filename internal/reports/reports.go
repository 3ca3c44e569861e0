// Package reports builds the daily briefing and predictive risk alert feeds
// by replaying fixed question sets through the answer pipeline.
package reports

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"metro-docs-rag/internal/models"
	"metro-docs-rag/internal/rag"
)

// Answerer is the slice of the answer pipeline the report generators use.
type Answerer interface {
	Ask(ctx context.Context, req rag.AskRequest) models.AnswerResult
	Brief(ctx context.Context, question, role string, k int) models.AnswerResult
}

// Retrieval depths tuned per product: briefings favour brevity, alerts cast
// a wider evidence net.
const (
	briefingK = 6
	alertK    = 8

	// BriefingErrorAnswer replaces one failed topic without aborting the run.
	BriefingErrorAnswer = "Error generating briefing for this topic."

	defaultAlertRole = "Director"
)

// roleQuestions is the static per-role topic list. Process-wide
// configuration, not derived data; item order in a briefing follows it.
var roleQuestions = map[string][]string{
	"StationController": {
		"List incidents, maintenance blocks, or speed restrictions in last 24h",
		"Any staffing or roster changes affecting today?",
		"Current operational status and alerts",
	},
	"Engineer": {
		"Open issues affecting rolling stock availability",
		"Vendor bulletins or technical circulars added in last 7 days",
		"Maintenance schedules and equipment status",
	},
	"Procurement": {
		"Contracts expiring in 60 days; pending POs; compliance notes",
		"Vendor performance issues or updates",
		"Budget allocations and expenditure tracking",
	},
	"HR": {
		"New policies, training schedules, or safety circulars in last 7 days",
		"Staff attendance and leave management updates",
		"Recruitment and onboarding activities",
	},
	"Director": {
		"High-level KPIs & risks this week across departments",
		"Strategic initiatives and project updates",
		"Compliance and regulatory updates",
	},
}

// riskQueries is the fixed, role-independent risk scan. A query surfaces an
// alert only when its retrieval produced evidence.
var riskQueries = []string{
	"Find any regulatory circulars or directives mentioning deadlines, penalties, or compliance requirements",
	"Flag incidents mentioning 'safety', 'near-miss', 'fire', 'derail', 'overspeed', 'intrusion'",
	"Identify contracts or agreements with upcoming renewal dates or penalty clauses",
	"Locate maintenance schedules showing overdue or critical items",
}

// Generator replays question sets through the answer pipeline.
type Generator struct {
	rag         Answerer
	log         zerolog.Logger
	concurrency int
}

// New builds a report generator. Concurrency bounds the parallel fan-out
// over questions within one report.
func New(answerer Answerer, log zerolog.Logger) *Generator {
	return &Generator{rag: answerer, log: log, concurrency: 3}
}

// Briefing replays the role's static question list. An unknown role yields
// an empty briefing, not an error, and one failed question never aborts the
// rest. Item order always matches the question-list order.
func (g *Generator) Briefing(ctx context.Context, role string) models.BriefingResult {
	questions := roleQuestions[role]
	items := make([]models.BriefingItem, len(questions))

	g.fanOut(len(questions), func(idx int) {
		question := questions[idx]
		resp := g.answerOne(func() models.AnswerResult {
			return g.rag.Brief(ctx, question, role, briefingK)
		}, role, question)
		items[idx] = models.BriefingItem{
			Question: question,
			Answer:   resp.Answer,
			Sources:  resp.Sources,
		}
	})

	if items == nil {
		items = []models.BriefingItem{}
	}
	return models.BriefingResult{
		Role:        role,
		Items:       items,
		GeneratedAt: time.Now().Format(time.RFC3339),
	}
}

// Alerts replays the fixed risk queries under the given role (Director when
// unset). Absence of evidence means no alert rather than a speculative one.
func (g *Generator) Alerts(ctx context.Context, role string) models.AlertResult {
	if role == "" {
		role = defaultAlertRole
	}

	hits := make([]*models.Alert, len(riskQueries))
	g.fanOut(len(riskQueries), func(idx int) {
		query := riskQueries[idx]
		resp := g.answerOne(func() models.AnswerResult {
			return g.rag.Ask(ctx, rag.AskRequest{Question: query, Role: role, K: alertK})
		}, role, query)
		if len(resp.Sources) == 0 {
			return
		}
		hits[idx] = &models.Alert{
			Query:   query,
			Answer:  resp.Answer,
			Sources: resp.Sources,
		}
	})

	alerts := make([]models.Alert, 0, len(hits))
	for _, hit := range hits {
		if hit != nil {
			alerts = append(alerts, *hit)
		}
	}
	return models.AlertResult{
		Alerts:    alerts,
		Timestamp: time.Now().Format(time.RFC3339),
	}
}

// fanOut runs fn for every index with bounded parallelism, slotting results
// by index so output ordering matches the static question order.
func (g *Generator) fanOut(n int, fn func(idx int)) {
	var wg sync.WaitGroup
	semaphore := make(chan struct{}, g.concurrency)

	for idx := 0; idx < n; idx++ {
		wg.Add(1)
		semaphore <- struct{}{}

		go func(idx int) {
			defer wg.Done()
			defer func() { <-semaphore }()
			fn(idx)
		}(idx)
	}

	wg.Wait()
}

// answerOne isolates a single question's pipeline: a panic or fault in one
// replay never cancels the others.
func (g *Generator) answerOne(run func() models.AnswerResult, role, question string) (result models.AnswerResult) {
	defer func() {
		if r := recover(); r != nil {
			g.log.Error().
				Str("role", role).
				Str("question", question).
				Interface("panic", r).
				Msg("report question pipeline panicked")
			result = models.AnswerResult{
				Answer:  BriefingErrorAnswer,
				Sources: []models.SourceRef{},
			}
		}
	}()
	return run()
}

// RoleQuestions exposes the configured topic list for a role; used by the
// serving layer for introspection.
func RoleQuestions(role string) []string {
	questions := roleQuestions[role]
	out := make([]string, len(questions))
	copy(out, questions)
	return out
}
