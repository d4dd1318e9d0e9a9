// Package injector enriches prompts with the owner's most relevant stored
// memories.
package injector

import (
	"context"
	"strings"

	"github.com/raeburn-ai/raeburn/internal/memory"
)

// DefaultLimit bounds how many memories flow into a prompt when no limit is
// given.
const DefaultLimit = 5

// Injector pulls ranked memories out of the store and formats them as a
// context block ahead of the prompt.
type Injector struct {
	store *memory.Store
	limit int
}

// New returns an injector reading from store. A non-positive limit falls
// back to DefaultLimit.
func New(store *memory.Store, limit int) *Injector {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Injector{store: store, limit: limit}
}

// Inject prefixes the prompt with the owner's memories most relevant to it:
//
//	Context:
//	- <text 1>
//	- <text 2>
//
//	Prompt: <prompt>
//
// Texts appear in ranking order. When nothing relevant is stored the prompt
// comes back verbatim.
func (i *Injector) Inject(ctx context.Context, owner, prompt string, tags []string, limit int) (string, error) {
	texts, err := i.RelevantTexts(ctx, owner, prompt, tags, limit)
	if err != nil {
		return "", err
	}
	if len(texts) == 0 {
		return prompt, nil
	}
	var b strings.Builder
	b.WriteString("Context:\n")
	for n, t := range texts {
		if n > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("- ")
		b.WriteString(t)
	}
	b.WriteString("\n\nPrompt: ")
	b.WriteString(prompt)
	return b.String(), nil
}

// RelevantTexts returns the texts of the owner's memories ranked against the
// query, most relevant first. An empty query ranks recent memories instead.
// A non-positive limit falls back to the injector's configured limit.
func (i *Injector) RelevantTexts(ctx context.Context, owner, query string, tags []string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = i.limit
	}
	entries, err := i.store.ForAgent(owner).GetRelevant(ctx, query, tags, limit)
	if err != nil {
		return nil, err
	}
	texts := make([]string, 0, len(entries))
	for _, e := range entries {
		texts = append(texts, e.Text)
	}
	return texts, nil
}
