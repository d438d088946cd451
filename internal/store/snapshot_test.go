package store

import (
	"strings"
	"testing"
	"time"

	"github.com/ashureev/triadic/internal/domain"
)

var testPersonas = domain.Personas{A: "analyst", B: "empath"}

func populated() *domain.SessionState {
	s := domain.NewSessionState("u", "tab", testPersonas)
	now := time.Unix(1_700_000_000, 0)
	s.Conversation.AddMessage(domain.SpeakerHost, "welcome", nil, now)
	s.Conversation.AddMessage(domain.SpeakerA, "first", nil, now)
	s.Settings.ModelName = "gpt-5.1"
	s.Settings.AutoDelay = 7
	s.AutoRun.Enabled = true
	s.AutoRun.StartWait(now)
	s.AutoRun.TurnInProgress = true
	s.Summary = "so far"
	s.VectorStoreID = "vs_1"
	s.TopicSuggestions = []string{"ethics"}
	s.LastLatency = 1.5
	return s
}

func TestSnapshotExcludesTransientFlags(t *testing.T) {
	t.Parallel()
	body, hash, err := TakeSnapshot(populated()).Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if hash == "" {
		t.Fatal("expected content hash")
	}
	for _, banned := range []string{"waiting", "turn_in_progress", "wait_started_at", "autorun"} {
		if strings.Contains(body, `"`+banned+`"`) {
			t.Errorf("snapshot must not contain %q: %s", banned, body)
		}
	}
	if !strings.Contains(body, `"auto_mode":true`) {
		t.Errorf("snapshot should carry auto_mode: %s", body)
	}
}

func TestSnapshotHashIsStable(t *testing.T) {
	t.Parallel()
	s := populated()
	_, h1, _ := TakeSnapshot(s).Encode()
	_, h2, _ := TakeSnapshot(s).Encode()
	if h1 != h2 {
		t.Fatal("hash should be stable for unchanged state")
	}
	s.Summary = "changed"
	_, h3, _ := TakeSnapshot(s).Encode()
	if h3 == h1 {
		t.Fatal("hash should change with content")
	}
}

func TestMergeIntoFreshSession(t *testing.T) {
	t.Parallel()
	body, _, err := TakeSnapshot(populated()).Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	snap, err := DecodeSnapshot(body)
	if err != nil {
		t.Fatalf("DecodeSnapshot: %v", err)
	}

	fresh := domain.NewSessionState("u", "tab", testPersonas)
	live := domain.NewSessionState("u", "tab", testPersonas)
	snap.MergeInto(live, fresh)

	if len(live.Conversation.Messages) != 2 || live.Conversation.TurnCount != 1 {
		t.Fatalf("conversation not restored: %+v", live.Conversation)
	}
	if live.Conversation.NextSpeaker != domain.SpeakerB {
		t.Errorf("next speaker = %s", live.Conversation.NextSpeaker)
	}
	if live.Settings.ModelName != "gpt-5.1" || live.Settings.AutoDelay != 7 {
		t.Errorf("settings not restored: %+v", live.Settings)
	}
	if !live.AutoRun.Enabled || live.AutoRun.Waiting || live.AutoRun.TurnInProgress {
		t.Errorf("auto-run should restore armed: %+v", live.AutoRun)
	}
	if live.Summary != "so far" || live.VectorStoreID != "vs_1" || live.LastLatency != 1.5 {
		t.Errorf("scalars not restored: %+v", live)
	}
}

func TestMergeIntoKeepsLiveValues(t *testing.T) {
	t.Parallel()
	snap := TakeSnapshot(populated())

	fresh := domain.NewSessionState("u", "tab", testPersonas)
	live := domain.NewSessionState("u", "tab", testPersonas)
	live.Conversation.AddMessage(domain.SpeakerHost, "live line", nil, time.Now())
	live.Settings.ModelName = "gpt-5-nano"
	live.Summary = "live summary"

	snap.MergeInto(live, fresh)

	if len(live.Conversation.Messages) != 1 || live.Conversation.Messages[0].Content != "live line" {
		t.Errorf("live conversation was clobbered: %+v", live.Conversation.Messages)
	}
	if live.Settings.ModelName != "gpt-5-nano" {
		t.Errorf("live settings were clobbered: %s", live.Settings.ModelName)
	}
	if live.Summary != "live summary" {
		t.Errorf("live summary was clobbered: %s", live.Summary)
	}
	if live.VectorStoreID != "vs_1" {
		t.Errorf("untouched keys should still merge, got %q", live.VectorStoreID)
	}
}

func TestDecodeSnapshotToleratesMissingKeys(t *testing.T) {
	t.Parallel()
	snap, err := DecodeSnapshot(`{"summary":"only this"}`)
	if err != nil {
		t.Fatalf("DecodeSnapshot: %v", err)
	}
	fresh := domain.NewSessionState("u", "tab", testPersonas)
	live := domain.NewSessionState("u", "tab", testPersonas)
	snap.MergeInto(live, fresh)

	if live.Summary != "only this" {
		t.Errorf("summary = %q", live.Summary)
	}
	if live.Settings != domain.DefaultSettings() {
		t.Errorf("settings should stay default: %+v", live.Settings)
	}
	if live.Conversation.NextSpeaker != domain.SpeakerA {
		t.Errorf("next speaker = %s", live.Conversation.NextSpeaker)
	}

	if _, err := DecodeSnapshot("{not json"); err == nil {
		t.Error("expected error for corrupt body")
	}
}
