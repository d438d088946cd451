package prompt

import (
	"strings"

	"github.com/ashureev/triadic/internal/domain"
)

const (
	// SummaryWindow bounds how many recent messages a summary reads.
	SummaryWindow = 20
	// SummaryFailed replaces a summary the model could not produce.
	SummaryFailed = "Summary generation failed. Conversation in progress."
)

// ShouldSummarize reports whether totalTurns lands on a summary boundary.
func ShouldSummarize(totalTurns, interval int) bool {
	return interval > 0 && totalTurns > 0 && totalTurns%interval == 0
}

// Summary builds the rolling summary prompt. A non-empty previous summary
// switches to the incremental form.
func Summary(messages []domain.Message, previous string) string {
	var lines []string
	for _, m := range messages {
		if m.Content == "" || domain.IsErrorContent(m.Content) {
			continue
		}
		lines = append(lines, m.Speaker.Label()+": "+m.Content)
	}
	if len(lines) > SummaryWindow {
		lines = lines[len(lines)-SummaryWindow:]
	}
	conversation := strings.Join(lines, "\n")

	var b strings.Builder
	if previous != "" {
		b.WriteString("Based on the previous summary and new conversation, provide a concise 2-3 sentence summary of the discussion progress.\n\n")
		b.WriteString("Previous Summary: " + previous + "\n\n")
		b.WriteString("Recent Conversation:\n" + conversation + "\n\n")
		b.WriteString("Provide an updated summary that captures:\n")
	} else {
		b.WriteString("Provide a concise 2-3 sentence summary of this podcast conversation.\n\n")
		b.WriteString("Conversation:\n" + conversation + "\n\n")
		b.WriteString("Summarize:\n")
	}
	b.WriteString("1. The main topics being discussed\n")
	b.WriteString("2. Key points or conclusions reached\n")
	b.WriteString("3. The current direction of the conversation\n\n")
	b.WriteString("Keep it concise (2-3 sentences, max 150 words).")
	return b.String()
}

// CleanSummary trims model output and drops a leading "Summary:" style preamble.
func CleanSummary(text string) string {
	text = strings.TrimSpace(text)
	for _, prefix := range []string{"summary:", "here's a summary:"} {
		if strings.HasPrefix(strings.ToLower(text), prefix) {
			text = strings.TrimSpace(text[len(prefix):])
		}
	}
	return text
}
