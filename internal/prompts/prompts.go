// Package prompts holds the fixed prompt contracts for each generator call
// site: standalone-question rewriting, answer synthesis, rationale
// generation and briefing summarization.
package prompts

import (
	"fmt"
	"strings"
	"text/template"
)

var standaloneTmpl = template.Must(template.New("standalone").Parse(
	`Rewrite the user's question as a standalone question that can be understood without any prior conversation. The user may ask in any language and you MUST preserve the original language in the output.
question: {{.Question}}
standalone question:`))

// The synthesis contract asks for a structured record so the caller can
// attach model-declared sources. A response that is not valid JSON is
// treated as a plain-text answer.
var answerTmpl = template.Must(template.New("answer").Parse(
	`You are an information extraction assistant for a metro rail organization.
Provide a direct answer to the user's question based only on the provided context.
You MUST reply in the SAME language as the user's question.

- Synthesize a concise answer from the provided documents.
- Directly state the information found in the documents.
- If the context contains no relevant information, state that you could not find a direct answer. Never invent one.

Respond with a single JSON object of the form:
{"answer": "<your answer>", "sources": [{"source": "<file>", "page": <number>}]}
List under "sources" only the documents you actually used.

Context:
{{.Context}}

Question: {{.Question}}

JSON answer:`))

var whyTmpl = template.Must(template.New("why").Parse(
	`You are a helpful assistant for a metro rail organization, explaining the reasoning behind an answer to a user with the role of '{{.Role}}'.
Provide a clear, human-like explanation that connects information from the provided document snippets.

Adopt a conversational, analytical tone. Synthesize a narrative from the snippets, referencing the source of each piece of information (for example "The Engineering report indicates...", "According to the Procurement files...").

Original Question: {{.Question}}

Snippets:
{{.Snippets}}

Here is the explanation for the {{.Role}}:`))

var briefingTmpl = template.Must(template.New("briefing").Parse(
	`You are an executive briefing assistant for a metro rail organization. Generate a high-level summary based on the provided context.

- Extract ONLY the most critical, high-impact information.
- The summary must be 3-5 concise bullet points.
- Emphasize key information using **bold** markdown.
- Do NOT include a title or any text other than the bullet points.
- If no relevant information is found, output only the text: "No new updates found."

Context:
{{.Context}}

Topic: {{.Question}}

Executive Summary:`))

func render(tmpl *template.Template, data any) (string, error) {
	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("failed to render %s prompt: %w", tmpl.Name(), err)
	}
	return sb.String(), nil
}

// Standalone renders the standalone-question rewrite prompt.
func Standalone(question string) (string, error) {
	return render(standaloneTmpl, struct{ Question string }{question})
}

// Answer renders the answer-synthesis prompt over an assembled context block.
func Answer(contextBlock, question string) (string, error) {
	return render(answerTmpl, struct{ Context, Question string }{contextBlock, question})
}

// Why renders the rationale prompt over document snippets, tagged with the
// requester's role for tone.
func Why(question, role, snippets string) (string, error) {
	return render(whyTmpl, struct{ Question, Role, Snippets string }{question, role, snippets})
}

// Briefing renders the briefing-summarization prompt for one topic.
func Briefing(contextBlock, question string) (string, error) {
	return render(briefingTmpl, struct{ Context, Question string }{contextBlock, question})
}
