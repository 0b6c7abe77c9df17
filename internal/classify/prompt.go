// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package classify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"github.com/pdiddy/paper-search/pkg/types"
)

const systemPrompt = `You are an assistant that analyzes the relevance of academic papers based on their titles and abstracts. Your task is to determine whether a given paper is relevant to specific user-provided keywords or queries. Make sure you understand both the paper content and the keywords or query before judging. Base your judgment solely on the paper title and abstract without referencing external information.

Respond with a JSON object of the form {"relevant": true} or {"relevant": false} and nothing else.`

// userPromptTmpl renders one paper and the query.
var userPromptTmpl = template.Must(template.New("relevance").Parse(`Title: {{.Title}}
Abstract: {{.Abstract}}
User Keywords/Query: {{.Query}}`))

// buildMessages renders the system and user turns for one judgment.
func buildMessages(query string, paper types.PaperRecord) ([]Message, error) {
	abstract := strings.TrimSpace(paper.Abstract)
	if abstract == "" {
		abstract = "N/A"
	}

	var buf bytes.Buffer
	err := userPromptTmpl.Execute(&buf, struct{ Title, Abstract, Query string }{
		Title:    paper.Title,
		Abstract: abstract,
		Query:    query,
	})
	if err != nil {
		return nil, fmt.Errorf("rendering prompt: %w", err)
	}

	return []Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: buf.String()},
	}, nil
}

// parseRelevance reads {"relevant": bool} from a reply, tolerating code
// fences and a bare yes/no answer.
func parseRelevance(reply string) (bool, error) {
	text := strings.TrimSpace(reply)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	var v struct {
		Relevant *bool `json:"relevant"`
	}
	if err := json.Unmarshal([]byte(text), &v); err == nil && v.Relevant != nil {
		return *v.Relevant, nil
	}

	word := strings.ToLower(strings.Trim(text, " \t\n.!'\""))
	switch {
	case word == "yes" || word == "true":
		return true, nil
	case word == "no" || word == "false":
		return false, nil
	}
	return false, fmt.Errorf("%w: %q", ErrMalformedReply, truncate(reply, 120))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
