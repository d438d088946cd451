package prompt

import (
	"strings"
	"testing"
)

func TestParseTopics(t *testing.T) {
	t.Parallel()

	raw := "Here are five topics:\n\nOcean cities\n- bullet\nMemory and identity\n1. numbered\nUrban farming\nSleep science\nLanguage evolution\nSeventh topic"
	got := ParseTopics(raw)
	want := []string{"Ocean cities", "Memory and identity", "Urban farming", "Sleep science", "Language evolution"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("ParseTopics = %v, want %v", got, want)
	}
}

func TestParseTopics_Fallback(t *testing.T) {
	t.Parallel()

	got := ParseTopics("Here you go\nOnly one")
	if len(got) != 5 || got[0] != "The future of artificial intelligence" {
		t.Fatalf("expected fallback topics, got %v", got)
	}
	got[0] = "mutated"
	if FallbackTopics[0] == "mutated" {
		t.Fatal("fallback slice shared with caller")
	}
}

func TestTopicsPromptAndStartLine(t *testing.T) {
	t.Parallel()

	if !strings.Contains(Topics(true), "uploaded to the knowledge base") {
		t.Error("document-aware prompt missing knowledge base hint")
	}
	if strings.Contains(Topics(false), "knowledge base") {
		t.Error("generic prompt mentions knowledge base")
	}
	if StartLine("  Tides ") != "Let's discuss: Tides" {
		t.Errorf("StartLine = %q", StartLine("  Tides "))
	}
}
