package session

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/ashureev/triadic/internal/autorun"
	"github.com/ashureev/triadic/internal/domain"
	"github.com/ashureev/triadic/internal/events"
	"github.com/ashureev/triadic/internal/gateway"
	"github.com/ashureev/triadic/internal/live"
	"github.com/ashureev/triadic/internal/prompt"
	"github.com/ashureev/triadic/internal/transcript"
	"github.com/ashureev/triadic/internal/turn"
)

// TurnOutcome reports what a turn request did. Host is the host message
// appended before the turn, Message the AI reply that was appended. Content
// holds the reply or the failed-turn text. Skipped means another turn was
// already running or the host message repeated the last one; Discarded means
// the session was rebooted mid-turn or the turn was declared stuck.
type TurnOutcome struct {
	Host      *domain.Message   `json:"host,omitempty"`
	Message   *domain.Message   `json:"message,omitempty"`
	Speaker   domain.SpeakerKey `json:"speaker,omitempty"`
	Content   string            `json:"content,omitempty"`
	Failed    bool              `json:"failed"`
	Elapsed   float64           `json:"elapsed_seconds"`
	Skipped   bool              `json:"skipped,omitempty"`
	Discarded bool              `json:"discarded,omitempty"`
	Summary   string            `json:"summary,omitempty"`
}

type job struct {
	in        turn.Inputs
	gen       uint64
	key       string
	userID    string
	sessionID string
	origin    string
}

type summaryJob struct {
	messages []domain.Message
	previous string
	turn     int
	interval int
	model    string
}

type deltaPayload struct {
	Speaker domain.SpeakerKey `json:"speaker"`
	Text    string            `json:"text"`
}

// beginLocked starts a turn. Callers hold e.mu.
func (s *Service) beginLocked(e *entry, origin string) (job, bool) {
	in, ok := s.exec.Begin(e.state)
	if !ok {
		return job{}, false
	}
	return job{
		in:        in,
		gen:       e.gen,
		key:       e.state.Key(),
		userID:    e.state.UserID,
		sessionID: e.state.SessionID,
		origin:    origin,
	}, true
}

// RunTurn runs one manual turn. onDelta receives batched stream chunks.
func (s *Service) RunTurn(ctx context.Context, userID, sessionID string, onDelta func(string)) (TurnOutcome, error) {
	e, err := s.get(ctx, userID, sessionID)
	if err != nil {
		return TurnOutcome{}, err
	}
	e.mu.Lock()
	j, ok := s.beginLocked(e, OriginManual)
	e.mu.Unlock()
	if !ok {
		return TurnOutcome{Skipped: true}, ErrTurnInProgress
	}
	return s.finish(ctx, e, j, onDelta), nil
}

// PostHostMessage appends a host message and runs the following AI turn. When
// a turn is already running the message is kept and the outcome is Skipped.
// Repeating the last host message appends nothing and returns it as Skipped.
func (s *Service) PostHostMessage(ctx context.Context, userID, sessionID, content string, onDelta func(string)) (TurnOutcome, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return TurnOutcome{}, domain.NewError(domain.KindValidation, "message is empty", nil)
	}
	e, err := s.get(ctx, userID, sessionID)
	if err != nil {
		return TurnOutcome{}, err
	}

	e.mu.Lock()
	msg, added := e.state.Conversation.AddMessage(domain.SpeakerHost, content, nil, s.now())
	if !added {
		last, ok := e.state.Conversation.LastFrom(domain.SpeakerHost)
		e.mu.Unlock()
		if ok && last.Content == content {
			return TurnOutcome{Host: &last, Skipped: true}, nil
		}
		return TurnOutcome{}, domain.NewError(domain.KindValidation, "message rejected as a failed turn", nil)
	}
	j, ok := s.beginLocked(e, OriginHost)
	key := e.state.Key()
	e.mu.Unlock()

	s.hub.Broadcast(key, live.TypeMessage, msg)
	s.recorder.Log(transcript.Event{
		UserID: userID, SessionID: sessionID, Speaker: string(domain.SpeakerHost),
		EventType: transcript.EventHostMessage, ContentRaw: content,
	})

	if !ok {
		s.persist(ctx, e)
		return TurnOutcome{Host: &msg, Skipped: true}, nil
	}
	out := s.finish(ctx, e, j, onDelta)
	out.Host = &msg
	return out, nil
}

// StartTopic opens a discussion on topic as a host message.
func (s *Service) StartTopic(ctx context.Context, userID, sessionID, topic string, onDelta func(string)) (TurnOutcome, error) {
	if strings.TrimSpace(topic) == "" {
		return TurnOutcome{}, domain.NewError(domain.KindValidation, "topic is empty", nil)
	}
	return s.PostHostMessage(ctx, userID, sessionID, prompt.StartLine(topic), onDelta)
}

// Tick evaluates auto-run for one session and starts the next turn in the
// background when it is due. A tick does not keep the session from idling out.
func (s *Service) Tick(ctx context.Context, userID, sessionID string) (autorun.Decision, error) {
	e, err := s.lookup(ctx, userID, sessionID, false)
	if err != nil {
		return autorun.Decision{}, err
	}

	e.mu.Lock()
	d := autorun.Evaluate(e.state, s.now())
	var j job
	started := false
	if d.Fire {
		j, started = s.beginLocked(e, OriginAuto)
	}
	key := e.state.Key()
	e.mu.Unlock()

	s.metrics.RecordEvaluation(d.Phase.String(), d.Recovered)
	if d.Recovered {
		s.logger.Warn("Recovered stuck turn flag", "session_key", key)
	}
	if d.Recovered || d.Resumed {
		s.broadcastState(e)
	}
	if started {
		d.Phase = autorun.Executing
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			turnCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), TurnTimeout)
			defer cancel()
			s.finish(turnCtx, e, j, nil)
		}()
	}
	return d, nil
}

// finish runs a begun turn and applies its result. A result whose in-progress
// flag was taken over by stuck recovery is dropped.
func (s *Service) finish(ctx context.Context, e *entry, j job, onDelta func(string)) TurnOutcome {
	s.broadcastState(e)

	stop := s.keepAlive(e, j)
	res := s.exec.Run(ctx, j.in, s.indexResolver(e, j.gen), func(chunk string) {
		s.beat(e, j)
		s.hub.Broadcast(j.key, live.TypeDelta, deltaPayload{Speaker: j.in.Speaker, Text: chunk})
		if onDelta != nil {
			onDelta(chunk)
		}
	})
	stop()

	out := TurnOutcome{
		Speaker: res.Speaker,
		Content: res.Content,
		Failed:  res.Failed(),
		Elapsed: res.Elapsed.Seconds(),
	}

	e.mu.Lock()
	if e.gen != j.gen {
		e.mu.Unlock()
		s.logger.Info("Discarding turn from before reboot", "session_key", j.key, "speaker", res.Speaker)
		out.Discarded = true
		return out
	}
	if !turn.Owns(e.state, j.in) {
		e.mu.Unlock()
		s.logger.Warn("Discarding turn superseded by stuck recovery", "session_key", j.key, "speaker", res.Speaker)
		out.Discarded = true
		return out
	}
	turn.End(e.state, j.in)
	now := s.now()
	if !res.Failed() {
		if msg, added := e.state.Conversation.AddMessage(res.Speaker, res.Content, res.Audio, now); added {
			out.Message = &msg
		}
		e.state.LastLatency = res.Elapsed.Seconds()
	}
	autorun.TurnFinished(e.state, now)

	var sj *summaryJob
	interval := e.state.Settings.Normalize().SummaryInterval
	if out.Message != nil && prompt.ShouldSummarize(e.state.Conversation.TurnCount, interval) {
		sj = &summaryJob{
			messages: slices.Clone(e.state.Conversation.Messages),
			previous: e.state.Summary,
			turn:     e.state.Conversation.TurnCount,
			interval: interval,
			model:    e.state.Settings.Normalize().ModelName,
		}
	}
	e.mu.Unlock()

	s.metrics.RecordTurn(string(res.Speaker), j.origin, res.Failed(), res.Elapsed)
	s.reportTurn(ctx, j, res, out)
	s.broadcastState(e)

	if sj != nil {
		out.Summary = s.summarize(ctx, e, j.gen, *sj)
	}
	s.persist(ctx, e)
	return out
}

// keepAlive refreshes the turn heartbeat until the returned stop is called.
func (s *Service) keepAlive(e *entry, j job) (stop func()) {
	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		t := time.NewTicker(s.heartbeat)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C:
				s.beat(e, j)
			}
		}
	}()
	return func() {
		close(done)
		<-exited
	}
}

func (s *Service) beat(e *entry, j job) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gen == j.gen {
		turn.Heartbeat(e.state, j.in, s.now())
	}
}

func (s *Service) reportTurn(ctx context.Context, j job, res turn.Result, out TurnOutcome) {
	uid, sid := j.userID, j.sessionID

	if res.Failed() {
		s.publish(ctx, events.NewEvent(events.TurnFailed, j.key, map[string]any{
			"speaker": res.Speaker,
			"origin":  j.origin,
			"reason":  domain.ReasonOf(res.Err),
		}))
		s.recorder.Log(transcript.Event{
			UserID: uid, SessionID: sid, Speaker: string(res.Speaker),
			EventType: transcript.EventTurnFailed, ContentRaw: res.Content,
			Meta: map[string]string{"origin": j.origin},
		})
		return
	}
	if out.Message == nil {
		return
	}
	s.hub.Broadcast(j.key, live.TypeMessage, out.Message)
	s.publish(ctx, events.NewEvent(events.TurnCompleted, j.key, map[string]any{
		"speaker":         res.Speaker,
		"origin":          j.origin,
		"message_id":      out.Message.ID,
		"char_count":      out.Message.CharCount,
		"elapsed_seconds": out.Elapsed,
		"tools":           res.Tools,
		"has_audio":       out.Message.HasAudio(),
	}))
	s.recorder.Log(transcript.Event{
		UserID: uid, SessionID: sid, Speaker: string(res.Speaker),
		EventType: transcript.EventAIMessage, ContentRaw: res.Content,
		Meta: map[string]string{"origin": j.origin, "message_id": out.Message.ID},
	})
}

// summarize refreshes the rolling summary. A failed summary keeps the
// previous text, or records the failure notice when there is none.
func (s *Service) summarize(ctx context.Context, e *entry, gen uint64, sj summaryJob) string {
	cfg := gateway.Config{Model: sj.model, Effort: "minimal", Verbosity: "low"}
	text, err := s.gen.Generate(ctx, prompt.Summary(sj.messages, sj.previous), cfg)
	summary := prompt.CleanSummary(text)
	ok := err == nil && summary != ""
	s.metrics.RecordSummary(ok)
	if !ok {
		s.logger.Warn("Summary generation failed", "turn", sj.turn, "error", err)
	}

	e.mu.Lock()
	if e.gen != gen {
		e.mu.Unlock()
		return ""
	}
	key := e.state.Key()
	switch {
	case ok:
		e.state.Summary = summary
		e.state.SummaryHistory = append(e.state.SummaryHistory, domain.SummaryEntry{
			Text:         summary,
			TurnNumber:   sj.turn,
			MessageCount: len(sj.messages),
			TurnRange:    domain.TurnRange{Start: max(1, sj.turn-sj.interval+1), End: sj.turn},
			CreatedAt:    s.now(),
		})
	case e.state.Summary == "":
		e.state.Summary = prompt.SummaryFailed
	}
	current := e.state.Summary
	e.mu.Unlock()

	if !ok {
		return current
	}
	s.hub.Broadcast(key, live.TypeSummary, map[string]any{"summary": summary, "turn": sj.turn})
	s.publish(ctx, events.NewEvent(events.SummaryGenerated, key, map[string]any{"turn": sj.turn}))
	s.recorder.Log(transcript.Event{
		UserID: e.state.UserID, SessionID: e.state.SessionID,
		EventType: transcript.EventSummary, ContentRaw: summary,
	})
	return summary
}

// indexResolver creates the document index on demand for a turn.
func (s *Service) indexResolver(e *entry, gen uint64) turn.IndexResolver {
	if s.indexer == nil {
		return nil
	}
	return func(ctx context.Context) (string, error) {
		return s.ensureIndex(ctx, e, gen)
	}
}

func (s *Service) ensureIndex(ctx context.Context, e *entry, gen uint64) (string, error) {
	e.indexMu.Lock()
	defer e.indexMu.Unlock()

	e.mu.Lock()
	id := e.state.VectorStoreID
	e.mu.Unlock()
	if id != "" {
		return id, nil
	}
	if s.indexer == nil {
		return "", domain.NewError(domain.KindConfiguration, "document indexing is not configured", nil)
	}
	id, err := s.indexer.CreateIndex(ctx, "")
	if err != nil {
		return "", domain.NewError(domain.KindIndexing, "failed to create document index", err)
	}
	e.mu.Lock()
	if e.gen == gen {
		e.state.VectorStoreID = id
	}
	e.mu.Unlock()
	return id, nil
}

func (s *Service) broadcastState(e *entry) {
	e.mu.Lock()
	v := s.viewLocked(e)
	key := e.state.Key()
	e.mu.Unlock()
	v.Messages = nil
	s.hub.Broadcast(key, live.TypeState, v)
}

func (s *Service) publish(ctx context.Context, ev events.Event) {
	if s.publisher == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.publisher.Publish(pubCtx, ev); err != nil {
		s.logger.Warn("Failed to publish event", "type", ev.Type, "session_key", ev.SessionKey, "error", err)
	}
}
