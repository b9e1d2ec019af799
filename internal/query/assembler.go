// Package query answers questions over the indexed corpus: embed the
// question, retrieve the closest chunks, assemble a prompt under the
// context budget, and stream the model's answer.
package query

import (
	"fmt"
	"strings"

	"github.com/efebarandurmaz/corpus/internal/llm"
	"github.com/efebarandurmaz/corpus/internal/vector"
)

const systemPrompt = "You answer questions using only the provided context."

// Citation identifies one chunk that made it into the prompt, numbered as
// it appears in the context block.
type Citation struct {
	Number     int
	EntryID    string
	DocumentID string
	ChunkIndex int
	Source     string
	Score      float32
}

// Assembler packs retrieved chunks into a prompt without exceeding the
// context token budget.
type Assembler struct {
	// MaxContextTokens bounds the estimated token count of the context
	// block. Chunks are included whole or not at all.
	MaxContextTokens int
}

// estimateTokens approximates the tokenizer at four characters per token,
// which overshoots slightly for English prose. Good enough for budgeting.
func estimateTokens(s string) int {
	return (len([]rune(s)) + 3) / 4
}

// Assemble builds the completion prompt from search results, highest score
// first. Duplicate entry ids are skipped, and a chunk that would blow the
// budget is dropped rather than truncated. With no usable results the
// prompt says so explicitly, and the model is still asked to answer.
func (a *Assembler) Assemble(question string, results []vector.SearchResult) (*llm.Prompt, []Citation) {
	var (
		blocks    []string
		citations []Citation
		used      int
		seen      = make(map[string]bool)
	)

	for _, res := range results {
		if seen[res.ID] {
			continue
		}
		seen[res.ID] = true

		n := len(citations) + 1
		block := fmt.Sprintf("[%d] Source: %s\n%s", n, sourceLabel(res.Payload), res.Payload.Text)
		cost := estimateTokens(block)
		if a.MaxContextTokens > 0 && used+cost > a.MaxContextTokens {
			continue
		}
		used += cost
		blocks = append(blocks, block)
		citations = append(citations, Citation{
			Number:     n,
			EntryID:    res.ID,
			DocumentID: res.Payload.DocumentID,
			ChunkIndex: res.Payload.ChunkIndex,
			Source:     res.Payload.Source,
			Score:      res.Score,
		})
	}

	context := "No context found."
	if len(blocks) > 0 {
		context = strings.Join(blocks, "\n\n")
	}

	user := fmt.Sprintf(
		"Use the following context to answer the question.\n\nContext:\n%s\n\nQuestion: %s\nAnswer concisely using the context above.",
		context, question,
	)
	return llm.NewPrompt(systemPrompt, user), citations
}

func sourceLabel(p vector.Payload) string {
	if p.Source != "" {
		return p.Source
	}
	return p.DocumentID
}
