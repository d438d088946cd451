package googlestt

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"

	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/googleapis/gax-go/v2"
)

type fakeRecognizer struct {
	req  *speechpb.RecognizeRequest
	resp *speechpb.RecognizeResponse
	err  error
}

func (f *fakeRecognizer) Recognize(_ context.Context, req *speechpb.RecognizeRequest, _ ...gax.CallOption) (*speechpb.RecognizeResponse, error) {
	f.req = req
	return f.resp, f.err
}

func wav(rate uint32, pcm []byte) []byte {
	h := make([]byte, wavHeaderSize)
	copy(h[0:], "RIFF")
	copy(h[8:], "WAVE")
	binary.LittleEndian.PutUint32(h[24:], rate)
	return append(h, pcm...)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.LanguageCode != "en-US" {
		t.Errorf("expected en-US, got %s", cfg.LanguageCode)
	}
	if cfg.SampleRateHz != 16000 {
		t.Errorf("expected 16000, got %d", cfg.SampleRateHz)
	}
}

func TestStripWAV(t *testing.T) {
	pcm, rate := stripWAV(wav(48000, []byte{1, 2}), 16000)
	if rate != 48000 || len(pcm) != 2 {
		t.Fatalf("got rate=%d len=%d", rate, len(pcm))
	}
	raw := []byte{9, 9, 9}
	pcm, rate = stripWAV(raw, 8000)
	if rate != 8000 || len(pcm) != 3 {
		t.Fatalf("raw audio should pass through, got rate=%d len=%d", rate, len(pcm))
	}
}

func TestTranscribeJoinsResults(t *testing.T) {
	f := &fakeRecognizer{resp: &speechpb.RecognizeResponse{
		Results: []*speechpb.SpeechRecognitionResult{
			{Alternatives: []*speechpb.SpeechRecognitionAlternative{{Transcript: " hello "}}},
			{Alternatives: nil},
			{Alternatives: []*speechpb.SpeechRecognitionAlternative{{Transcript: "world"}}},
		},
	}}
	tr := newWithRecognizer(f, Config{LanguageCode: "en-GB"})

	text, err := tr.Transcribe(context.Background(), wav(22050, []byte{0, 1, 2, 3}), "clip.wav")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "hello world" {
		t.Errorf("got %q", text)
	}
	if f.req.GetConfig().GetSampleRateHertz() != 22050 {
		t.Errorf("sample rate not taken from header: %d", f.req.GetConfig().GetSampleRateHertz())
	}
	if f.req.GetConfig().GetLanguageCode() != "en-GB" {
		t.Errorf("language = %s", f.req.GetConfig().GetLanguageCode())
	}
}

func TestTranscribeErrors(t *testing.T) {
	tr := newWithRecognizer(&fakeRecognizer{err: errors.New("unavailable")}, Config{})
	if _, err := tr.Transcribe(context.Background(), []byte{1}, ""); err == nil {
		t.Fatal("expected error")
	}
	if _, err := tr.Transcribe(context.Background(), nil, ""); err == nil {
		t.Fatal("expected error for empty audio")
	}
}
