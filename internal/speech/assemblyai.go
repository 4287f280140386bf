package speech

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/MindMate-tech/Mind-Mate-Monorepo/internal/audio"
)

const (
	DefaultAssemblyAIURL = "wss://streaming.assemblyai.com/v3/ws"

	sampleRate = 16000
	// 100ms of 16-bit mono PCM
	chunkBytes = sampleRate / 10 * 2
	voiceRMS   = 250.0
)

// AssemblyAI v3 streaming messages.
type wireMessage struct {
	Type       string `json:"type"`
	ID         string `json:"id,omitempty"`
	Transcript string `json:"transcript,omitempty"`
	EndOfTurn  bool   `json:"end_of_turn,omitempty"`
	Error      string `json:"error,omitempty"`
}

// AssemblyAIRecognizer streams microphone PCM to AssemblyAI and reports turns.
type AssemblyAIRecognizer struct {
	APIKey string
	URL    string
	Device audio.Device
	// NoSpeechTimeout ends a run that has heard no voice for this long.
	NoSpeechTimeout time.Duration

	log    zerolog.Logger
	dialer websocket.Dialer

	mu   sync.Mutex
	stop context.CancelFunc
}

func NewAssemblyAIRecognizer(apiKey string, device audio.Device, logger zerolog.Logger) *AssemblyAIRecognizer {
	return &AssemblyAIRecognizer{
		APIKey:          apiKey,
		URL:             DefaultAssemblyAIURL,
		Device:          device,
		NoSpeechTimeout: 8 * time.Second,
		log:             logger,
		dialer:          websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

// Start opens the capture and the streaming socket. Language selection is
// left to the service; lang is only logged.
func (r *AssemblyAIRecognizer) Start(ctx context.Context, lang string) (<-chan Event, error) {
	if r.APIKey == "" {
		return nil, errors.New("assemblyai: API key is empty")
	}
	if r.Device == nil {
		return nil, errors.New("assemblyai: no capture device")
	}
	runCtx, cancel := context.WithCancel(ctx)

	stream, err := r.Device.Open(runCtx, audio.Constraints{
		Audio: true, SampleRate: sampleRate, Channels: 1,
		EchoCancellation: true, NoiseSuppression: true,
	}, audio.MIMEL16)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open capture: %w", err)
	}

	params := url.Values{}
	params.Set("sample_rate", fmt.Sprint(sampleRate))
	params.Set("format_turns", "false")
	params.Set("encoding", "pcm_s16le")
	wsURL := r.URL + "?" + params.Encode()

	conn, resp, err := r.dialer.DialContext(runCtx, wsURL, map[string][]string{"Authorization": {r.APIKey}})
	if err != nil {
		cancel()
		_ = stream.Close()
		if resp != nil {
			return nil, fmt.Errorf("failed to connect to AssemblyAI (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to connect to AssemblyAI: %w", err)
	}

	r.mu.Lock()
	r.stop = cancel
	r.mu.Unlock()

	r.log.Debug().Str("lang", lang).Msg("assemblyai run started")
	events := make(chan Event, 32)
	go r.run(runCtx, cancel, conn, stream, events)
	return events, nil
}

func (r *AssemblyAIRecognizer) Stop() {
	r.mu.Lock()
	stop := r.stop
	r.stop = nil
	r.mu.Unlock()
	if stop != nil {
		stop()
	}
}

func (r *AssemblyAIRecognizer) run(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, stream audio.Stream, events chan<- Event) {
	defer close(events)
	defer cancel()

	emit := func(ev Event) {
		select {
		case events <- ev:
		case <-ctx.Done():
		}
	}

	var (
		wg        sync.WaitGroup
		voiceMu   sync.Mutex
		lastVoice = time.Now()
	)
	wg.Add(2)

	// capture -> socket
	go func() {
		defer wg.Done()
		defer cancel()
		buf := make([]byte, chunkBytes)
		vad := newVoiceDetector()
		for {
			n, err := io.ReadFull(stream, buf)
			if n > 0 {
				if vad.isSpeech(buf[:n]) {
					voiceMu.Lock()
					lastVoice = time.Now()
					voiceMu.Unlock()
				}
				if werr := conn.WriteMessage(websocket.BinaryMessage, buf[:n]); werr != nil {
					if ctx.Err() == nil {
						emit(Event{Err: fmt.Errorf("send audio: %w", werr), Code: CodeNetwork})
					}
					return
				}
			}
			if err != nil {
				if ctx.Err() == nil {
					emit(Event{Err: fmt.Errorf("capture ended: %w", err), Code: CodeAudioCapture})
				}
				return
			}
		}
	}()

	// socket -> events
	go func() {
		defer wg.Done()
		defer cancel()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
					emit(Event{Err: fmt.Errorf("read transcript: %w", err), Code: CodeNetwork})
				}
				return
			}
			var msg wireMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				r.log.Warn().Err(err).Msg("undecodable assemblyai message")
				continue
			}
			switch msg.Type {
			case "Begin":
				r.log.Debug().Str("session", msg.ID).Msg("assemblyai session began")
			case "Turn":
				if strings.TrimSpace(msg.Transcript) != "" {
					voiceMu.Lock()
					lastVoice = time.Now()
					voiceMu.Unlock()
				}
				emit(Event{Text: msg.Transcript, Final: msg.EndOfTurn})
			case "Termination":
				return
			case "Error":
				emit(Event{Err: fmt.Errorf("assemblyai: %s", msg.Error), Code: CodeOther})
			}
		}
	}()

	// inactivity watchdog
	if r.NoSpeechTimeout > 0 {
		ticker := time.NewTicker(r.NoSpeechTimeout / 4)
		defer ticker.Stop()
	watch:
		for {
			select {
			case <-ctx.Done():
				break watch
			case <-ticker.C:
				voiceMu.Lock()
				idle := time.Since(lastVoice)
				voiceMu.Unlock()
				if idle >= r.NoSpeechTimeout {
					emit(Event{Err: errors.New("no speech detected"), Code: CodeNoSpeech})
					cancel()
					break watch
				}
			}
		}
	} else {
		<-ctx.Done()
	}

	_ = conn.WriteJSON(map[string]string{"type": "Terminate"})
	_ = conn.Close()
	_ = stream.Close()
	wg.Wait()
	r.log.Debug().Msg("assemblyai run ended")
}
