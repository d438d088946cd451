package domain

import "testing"

func TestSettingsNormalize(t *testing.T) {
	t.Parallel()

	s := Settings{
		ModelName:       "not-a-real-model",
		ReasoningEffort: "extreme",
		TextVerbosity:   "chatty",
		AutoDelay:       99,
		SummaryInterval: 1,
	}.Normalize()

	def := DefaultSettings()
	if s.ModelName != def.ModelName {
		t.Errorf("ModelName = %q, want %q", s.ModelName, def.ModelName)
	}
	if s.ReasoningEffort != "low" || s.TextVerbosity != "medium" {
		t.Errorf("effort/verbosity = %q/%q", s.ReasoningEffort, s.TextVerbosity)
	}
	if s.AutoDelay != 4.0 || s.SummaryInterval != 5 {
		t.Errorf("delay/interval = %v/%d", s.AutoDelay, s.SummaryInterval)
	}
	if s.Voices.A != "alloy" || s.Voices.B != "verse" {
		t.Errorf("voices = %+v", s.Voices)
	}
}

func TestSettingsNormalizeKeepsValid(t *testing.T) {
	t.Parallel()

	in := DefaultSettings()
	in.ModelName = "gpt-5.1"
	in.ReasoningEffort = "high"
	in.AutoDelay = 2.0
	in.SummaryInterval = 20

	out := in.Normalize()
	if out != in {
		t.Fatalf("Normalize changed valid settings: %+v -> %+v", in, out)
	}
}

func TestSanitizeFilename(t *testing.T) {
	t.Parallel()

	if got := SanitizeFilename("../a\\b\x00.pdf"); got != ".._a_b.pdf" {
		t.Errorf("SanitizeFilename = %q", got)
	}
	long := make([]byte, 300)
	for i := range long {
		long[i] = 'a'
	}
	if got := SanitizeFilename(string(long)); len(got) != 255 {
		t.Errorf("len = %d, want 255", len(got))
	}
	if FileKey("notes.txt", 42) != "notes.txt:42" {
		t.Errorf("FileKey = %q", FileKey("notes.txt", 42))
	}
}
