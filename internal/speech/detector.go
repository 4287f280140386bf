package speech

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/MindMate-tech/Mind-Mate-Monorepo/internal/metrics"
)

type Options struct {
	Keywords     []string
	Lang         string
	OnTranscript func(text string)
	OnKeyword    func(KeywordMatch)
	OnError      func(error)
}

// Detector keeps a recognizer running while listening and reports keyword cues.
type Detector struct {
	rec  Recognizer
	opts Options
	log  zerolog.Logger

	// RestartDelay applies after no-speech and audio-capture errors.
	RestartDelay time.Duration

	mu        sync.Mutex
	listening bool
	err       error
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewDetector accepts a nil recognizer; Start then records ErrUnsupported.
func NewDetector(rec Recognizer, opts Options, logger zerolog.Logger) *Detector {
	if opts.Lang == "" {
		opts.Lang = "en-US"
	}
	d := &Detector{rec: rec, opts: opts, log: logger, RestartDelay: time.Second}
	if rec == nil {
		d.err = ErrUnsupported
	}
	return d
}

func (d *Detector) Listening() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.listening
}

// Err returns the last surfaced error. It does not imply the detector stopped.
func (d *Detector) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

// Start begins continuous listening. It is a no-op when already listening or
// when no recognizer is available.
func (d *Detector) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.rec == nil {
		d.err = ErrUnsupported
		d.log.Warn().Err(d.err).Msg("speech cues disabled")
		return
	}
	if d.listening {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	d.listening = true
	d.err = nil
	d.cancel = cancel
	d.done = make(chan struct{})
	go d.loop(runCtx, d.done)
	d.log.Info().Strs("keywords", d.opts.Keywords).Msg("speech recognition started")
}

// Stop ends listening and waits for the current run to finish.
func (d *Detector) Stop() {
	d.mu.Lock()
	if !d.listening {
		d.mu.Unlock()
		return
	}
	d.listening = false
	cancel, done := d.cancel, d.done
	d.mu.Unlock()

	cancel()
	d.rec.Stop()
	<-done
	d.log.Info().Msg("speech recognition stopped")
}

func (d *Detector) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		delay := d.run(ctx)
		if ctx.Err() != nil {
			return
		}
		if delay > 0 {
			t := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}
		}
		d.log.Debug().Msg("restarting speech recognition")
	}
}

// run drives one recognizer run and returns how long to wait before the next.
func (d *Detector) run(ctx context.Context) time.Duration {
	events, err := d.rec.Start(ctx, d.opts.Lang)
	if err != nil {
		d.surface(fmt.Errorf("start recognition: %w", err))
		return d.RestartDelay
	}
	started := time.Now()
	received := false
	for ev := range events {
		received = true
		if ev.Err != nil || ev.Code != "" {
			if d.handleError(ev) {
				d.rec.Stop()
				for range events {
				}
				return d.RestartDelay
			}
			continue
		}
		d.handleTranscript(ev)
	}
	// a run that ends instantly without output would otherwise spin
	if !received && time.Since(started) < 100*time.Millisecond {
		return d.RestartDelay
	}
	return 0
}

// handleError reports whether the error calls for a delayed restart.
func (d *Detector) handleError(ev Event) bool {
	switch ev.Code {
	case CodeNoSpeech, CodeAudioCapture:
		d.log.Debug().Str("code", string(ev.Code)).Err(ev.Err).Msg("recognition paused, restarting shortly")
		return true
	}
	err := ev.Err
	if err == nil {
		err = fmt.Errorf("speech recognition error: %s", ev.Code)
	}
	d.surface(err)
	return false
}

func (d *Detector) surface(err error) {
	d.log.Error().Err(err).Msg("speech recognition error")
	d.mu.Lock()
	d.err = err
	d.mu.Unlock()
	if d.opts.OnError != nil {
		d.opts.OnError(err)
	}
}

func (d *Detector) handleTranscript(ev Event) {
	text := strings.TrimSpace(ev.Text)
	if text == "" {
		return
	}
	if d.opts.OnTranscript != nil {
		d.opts.OnTranscript(text)
	}
	if !ev.Final {
		return
	}
	for _, m := range MatchKeywords(text, d.opts.Keywords) {
		d.log.Info().Str("keyword", m.Keyword).Str("transcript", m.Transcript).Msg("keyword detected")
		metrics.KeywordMatches.WithLabelValues(m.Keyword).Inc()
		if d.opts.OnKeyword != nil {
			d.opts.OnKeyword(m)
		}
	}
}

// MatchKeywords returns every keyword contained in transcript, ignoring case.
func MatchKeywords(transcript string, keywords []string) []KeywordMatch {
	lower := strings.ToLower(transcript)
	var out []KeywordMatch
	for _, k := range keywords {
		if k == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(k)) {
			out = append(out, KeywordMatch{Keyword: k, Transcript: transcript})
		}
	}
	return out
}
