package prompt

import (
	"strings"

	"github.com/ashureev/triadic/internal/domain"
)

// SystemSource supplies the base instructions.
type SystemSource interface {
	Load() string
}

// Builder turns conversation state into a turn prompt.
type Builder struct {
	system SystemSource
}

// NewBuilder returns a Builder reading base instructions from system.
func NewBuilder(system SystemSource) *Builder {
	return &Builder{system: system}
}

var toolDescriptions = []struct {
	tool domain.Tool
	desc string
}{
	{domain.ToolWebSearch, "web search (to find current information, recent events, or verify facts)"},
	{domain.ToolFileSearch, "file search (to search through uploaded documents)"},
}

var toolGuidelines = []string{
	"- Use web search when discussing current events, recent news, or when you need up-to-date information",
	"- Use web search to verify facts, statistics, or claims that might be outdated",
	"- Use file search when the conversation references uploaded documents or when searching documents would help",
	"- The tools will be called automatically - you don't need to ask permission, just use them when relevant",
	"- Incorporate tool results naturally into your response without mentioning the tool usage",
}

// Build assembles the prompt for next. The whole history is included.
func (b *Builder) Build(next domain.SpeakerKey, history []domain.Message, tools []domain.Tool, personas domain.Personas) string {
	system := DefaultSystemPrompt
	if b != nil && b.system != nil {
		system = b.system.Load()
	}
	lines := []string{system}

	if persona := strings.TrimSpace(personas.For(next)); persona != "" {
		lines = append(lines, "", persona)
	}

	var offered []string
	for _, td := range toolDescriptions {
		if domain.HasTool(tools, td.tool) {
			offered = append(offered, td.desc)
		}
	}
	if len(offered) > 0 {
		lines = append(lines,
			"",
			"IMPORTANT - Available Tools:",
			"You have access to the following tools that you can and should use automatically:",
		)
		for _, desc := range offered {
			lines = append(lines, "- "+desc)
		}
		lines = append(lines, "", "Tool Usage Guidelines:")
		lines = append(lines, toolGuidelines...)
	}

	lines = append(lines, "", "Transcript so far:", "")
	for _, m := range history {
		lines = append(lines, transcriptLabel(m.Speaker)+": "+m.Content)
	}

	target := domain.SpeakerA.Label()
	if next == domain.SpeakerB {
		target = domain.SpeakerB.Label()
	}
	lines = append(lines, "\nNow continue as "+target+". Reply only with what you say next.")
	return strings.Join(lines, "\n")
}

func transcriptLabel(s domain.SpeakerKey) string {
	switch s {
	case domain.SpeakerHost, domain.SpeakerA:
		return s.Label()
	default:
		return domain.SpeakerB.Label()
	}
}
