package engine

import (
	"fmt"
	"slices"
	"strings"

	"github.com/rhuss/kbqa/pkg/api"
)

// ContextResults is how many retrieved snippets enter the prompt.
const ContextResults = 3

// PreviewRunes is the length of snippet previews in stream metadata.
const PreviewRunes = 100

// NotFoundMessage is the reply when retrieval produced no usable context.
const NotFoundMessage = "抱歉，在知识库中没有找到相关信息。"

const systemPrompt = `基于以下参考信息回答问题：

参考信息：
%s

要求：
1. 只基于参考信息回答
2. 如果参考信息中没有，请说"根据提供的信息，无法回答这个问题"
3. 回答要简洁明了`

// BuildContext numbers the first ContextResults snippets in retriever
// order as "[来源i] text" and joins them with a blank line. It returns ""
// when none of those snippets carries any text, so callers can tell an
// empty context from a numbered one.
func BuildContext(results []api.SearchResult) string {
	n := min(len(results), ContextResults)
	if !slices.ContainsFunc(results[:n], func(r api.SearchResult) bool {
		return strings.TrimSpace(r.Text) != ""
	}) {
		return ""
	}
	parts := make([]string, 0, n)
	for i, r := range results[:n] {
		parts = append(parts, fmt.Sprintf("[来源%d] %s", i+1, r.Text))
	}
	return strings.Join(parts, "\n\n")
}

// BuildMessages returns the system prompt carrying contextText followed by
// the user's question.
func BuildMessages(contextText, question string) []api.ChatMessage {
	return []api.ChatMessage{
		{Role: api.RoleSystem, Content: fmt.Sprintf(systemPrompt, contextText)},
		{Role: api.RoleUser, Content: question},
	}
}

// Previews shortens the first ContextResults snippets for stream metadata.
func Previews(results []api.SearchResult) []api.SourcePreview {
	n := min(len(results), ContextResults)
	out := make([]api.SourcePreview, 0, n)
	for _, r := range results[:n] {
		out = append(out, api.SourcePreview{
			Text:     truncateRunes(r.Text, PreviewRunes),
			Score:    r.Score,
			Metadata: r.Metadata,
		})
	}
	return out
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
