package agents

import "strings"

// BuildPrompt assembles the upstream prompt for an agent: the system prompt
// (when the persona has one), the user input, and an extras block carrying
// injected context lines and the persona's style hint. Blocks are separated
// by blank lines; absent blocks are dropped entirely.
func BuildPrompt(a Agent, userInput string, context []string) string {
	parts := make([]string, 0, 3)
	if a.SystemPrompt != "" {
		parts = append(parts, a.SystemPrompt)
	}
	parts = append(parts, "User: "+userInput)

	var extras []string
	if joined := strings.Join(context, "\n"); joined != "" {
		extras = append(extras, "Context:\n"+joined)
	}
	if a.PromptStyle != "" {
		extras = append(extras, "Style: "+a.PromptStyle)
	}
	if len(extras) > 0 {
		parts = append(parts, strings.Join(extras, "\n"))
	}
	return strings.Join(parts, "\n\n")
}
