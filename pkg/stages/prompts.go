package stages

import (
	"bytes"
	"strings"
	"text/template"

	"github.com/aretw0/threadline/pkg/domain"
)

const rewriteSystem = `You rewrite follow-up questions into standalone questions.
Use the conversation only to resolve references such as pronouns, places, dates and omitted subjects.
If the question is already standalone, repeat it unchanged.
Reply with the question only, on a single line, without quotes or commentary.`

const rewriteTemplate = `Conversation so far:
{{range .History}}{{.Role}}: {{.Content}}
{{end}}
Follow-up question: {{.Query}}

Standalone question:`

const gradeSystem = `You judge whether retrieved context is enough to answer a question.
Reply with a single word: yes or no.`

const gradeTemplate = `Question: {{.Query}}

Retrieved context:
{{range .Context}}[{{.Source}}] {{.Text}}
{{end}}
Does the context contain enough information to answer the question?`

const routeSystem = `You select tools for a question answering assistant.
Rank the tools that could provide the information needed, most useful first.
Reply with a JSON array only, for example:
[{"name": "get_weather", "args": {"city": "Pune"}}, {"name": "web_search", "args": {"query": "Pune weather"}}]
Reply with [] when no tool is needed, such as for greetings or small talk.`

const routeTemplate = `Available tools:
{{range .Tools}}- {{.Name}} ({{.Domain}}): {{.Description}}
{{end}}
Question: {{.Query}}`

const answerSystem = `You are a helpful assistant for the Cloud Computing Cell (CCC).
Answer the user's question using the retrieved context when it is provided.
Do not invent facts that are not supported by the context or the conversation.
If the context does not answer the question, say so plainly.
Keep answers concise and use markdown where it helps.`

const answerTemplate = `{{if .Context}}Retrieved context:
{{range .Context}}[{{.Source}}] {{.Text}}
{{end}}
{{end}}Question: {{.Query}}`

const suggestSystem = `You generate follow-up query suggestions.`

const suggestTemplate = `Rules:
- Use the provided final answer.
- If the final answer contains a question, generate possible answers to that question.
- If the final answer is neutral, suggest queries related to Cloud Computing Cell (CCC) and related to the answer.
- Generate exactly {{.Count}} suggestions, one per line.
- Each suggestion must contain 3 to 6 words.
- Do not number the suggestions and do not use bullets.

Final answer:
{{.Answer}}`

var (
	rewriteTmpl = template.Must(template.New("rewrite").Parse(rewriteTemplate))
	gradeTmpl   = template.Must(template.New("grade").Parse(gradeTemplate))
	routeTmpl   = template.Must(template.New("route").Parse(routeTemplate))
	answerTmpl  = template.Must(template.New("answer").Parse(answerTemplate))
	suggestTmpl = template.Must(template.New("suggest").Parse(suggestTemplate))
)

// render executes a template whose data is built in this package, so
// execution errors are programming errors and fall back to the raw query.
func render(t *template.Template, data any, fallback string) string {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return fallback
	}
	return strings.TrimSpace(buf.String())
}

func userMessage(content string) domain.Message {
	return domain.Message{Role: domain.RoleUser, Content: content}
}
