// Package rtc joins the real-time room and publishes the local microphone.
package rtc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"
	"github.com/rs/zerolog"

	"github.com/MindMate-tech/Mind-Mate-Monorepo/internal/audio"
)

type ConnectionState string

const (
	StateConnecting ConnectionState = "connecting"
	StateConnected  ConnectionState = "connected"
	// StateReconnecting is a dropped peer that may still recover on its own.
	StateReconnecting ConnectionState = "reconnecting"
	StateDisconnected ConnectionState = "disconnected"
	StateFailed       ConnectionState = "failed"
)

var ErrNotJoined = errors.New("rtc: room not joined")

type RoomOptions struct {
	SignalingURL   string
	ICEServersJSON string
	// Microphone is published when set. It is opened as 48 kHz mono audio/L16.
	Microphone audio.Device
	OnState    func(ConnectionState)
	// AnswerTimeout bounds the wait for the remote answer.
	AnswerTimeout time.Duration
	// DisconnectGrace is how long a disconnected peer may take to recover
	// before the room reports StateDisconnected.
	DisconnectGrace time.Duration
}

// Room is one participant connection to the real-time room.
type Room struct {
	opts RoomOptions
	log  zerolog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	pc      *webrtc.PeerConnection
	paced   *OpusPacedWriter
	mic     io.Closer
	micOn   bool
	state   ConnectionState
	left    bool
	grace   *time.Timer
	writeMu sync.Mutex
}

func NewRoom(opts RoomOptions, logger zerolog.Logger) *Room {
	if opts.AnswerTimeout <= 0 {
		opts.AnswerTimeout = 15 * time.Second
	}
	if opts.DisconnectGrace <= 0 {
		opts.DisconnectGrace = 10 * time.Second
	}
	return &Room{opts: opts, log: logger, micOn: true}
}

func (r *Room) State() ConnectionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Join dials signaling with token, sends an offer and applies the answer.
// Connection progress after that is reported through OnState. A live
// connection is kept; a failed or closed one is replaced.
func (r *Room) Join(ctx context.Context, token string) error {
	r.mu.Lock()
	if r.left {
		r.mu.Unlock()
		return errors.New("rtc: room already left")
	}
	stale := r.pc != nil && r.staleLocked()
	if r.pc != nil && !stale {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()
	if stale {
		r.log.Info().Str("state", string(r.State())).Msg("replacing dead peer connection")
		_ = r.close()
	}
	if r.opts.SignalingURL == "" {
		return errors.New("rtc: signaling URL not configured")
	}
	r.setState(StateConnecting)

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, r.opts.SignalingURL, map[string][]string{"Authorization": {"Bearer " + token}})
	if err != nil {
		r.setState(StateFailed)
		if resp != nil {
			return fmt.Errorf("dial signaling (status %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("dial signaling: %w", err)
	}

	pc, paced, err := r.newPeer()
	if err != nil {
		_ = conn.Close()
		r.setState(StateFailed)
		return err
	}
	r.mu.Lock()
	r.conn, r.pc, r.paced = conn, pc, paced
	r.mu.Unlock()

	answered := make(chan error, 1)
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			_ = r.send(signalMessage{Type: "ice-complete"})
			return
		}
		init := c.ToJSON()
		_ = r.send(signalMessage{Type: "candidate", Candidate: init.Candidate, SDPMid: init.SDPMid, SDPMLineIndex: init.SDPMLineIndex})
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		// a replaced peer closing late must not report on the new one
		if !r.current(pc) {
			return
		}
		r.onPeerState(s)
	})
	go r.readLoop(conn, pc, answered)

	offer, err := pc.CreateOffer(nil)
	if err == nil {
		err = pc.SetLocalDescription(offer)
	}
	if err == nil {
		err = r.send(signalMessage{Type: "offer", SDP: offer.SDP})
	}
	if err != nil {
		_ = r.close()
		r.setState(StateFailed)
		return fmt.Errorf("send offer: %w", err)
	}

	timer := time.NewTimer(r.opts.AnswerTimeout)
	defer timer.Stop()
	select {
	case err = <-answered:
	case <-timer.C:
		err = errors.New("timed out waiting for answer")
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		_ = r.close()
		r.setState(StateFailed)
		return fmt.Errorf("join room: %w", err)
	}
	r.log.Info().Msg("room answer applied")
	return nil
}

// staleLocked reports a peer that can no longer carry the session. Caller holds mu.
func (r *Room) staleLocked() bool {
	switch r.state {
	case StateFailed, StateDisconnected:
		return true
	}
	switch r.pc.ConnectionState() {
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
		return true
	}
	return false
}

func (r *Room) current(pc *webrtc.PeerConnection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pc == pc
}

// onPeerState maps peer connection states onto room states. A disconnected
// peer gets DisconnectGrace to come back before the room counts as lost.
func (r *Room) onPeerState(s webrtc.PeerConnectionState) {
	r.log.Debug().Str("pc_state", s.String()).Msg("peer connection state")
	switch s {
	case webrtc.PeerConnectionStateConnected:
		r.stopGrace()
		r.setState(StateConnected)
		go r.publishMicrophone(context.Background())
	case webrtc.PeerConnectionStateFailed:
		r.stopGrace()
		r.setState(StateFailed)
	case webrtc.PeerConnectionStateDisconnected:
		r.setState(StateReconnecting)
		r.armGrace()
	case webrtc.PeerConnectionStateClosed:
		r.stopGrace()
		r.setState(StateDisconnected)
	}
}

func (r *Room) armGrace() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.grace != nil {
		return
	}
	var t *time.Timer
	t = time.AfterFunc(r.opts.DisconnectGrace, func() {
		r.mu.Lock()
		if r.grace == t {
			r.grace = nil
		}
		lost := r.state == StateReconnecting
		r.mu.Unlock()
		if lost {
			r.log.Warn().Dur("grace", r.opts.DisconnectGrace).Msg("peer did not recover")
			r.setState(StateDisconnected)
		}
	})
	r.grace = t
}

func (r *Room) stopGrace() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.grace != nil {
		r.grace.Stop()
		r.grace = nil
	}
}

func (r *Room) newPeer() (*webrtc.PeerConnection, *OpusPacedWriter, error) {
	api, err := newAPI()
	if err != nil {
		return nil, nil, err
	}
	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: ParseICEServers(r.opts.ICEServersJSON)})
	if err != nil {
		return nil, nil, err
	}
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: opusRate, Channels: 1},
		"patient-audio", "patient",
	)
	if err != nil {
		_ = pc.Close()
		return nil, nil, err
	}
	if _, err := pc.AddTrack(track); err != nil {
		_ = pc.Close()
		return nil, nil, err
	}
	// the avatar's audio and video
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		if _, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly}); err != nil {
			_ = pc.Close()
			return nil, nil, err
		}
	}
	if _, err := pc.CreateDataChannel("control", nil); err != nil {
		_ = pc.Close()
		return nil, nil, err
	}
	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		r.log.Info().Str("kind", remote.Kind().String()).Str("codec", remote.Codec().MimeType).Msg("remote track received")
		go func() {
			// drain so the interceptors keep receiving reports
			for {
				if _, _, err := remote.ReadRTP(); err != nil {
					return
				}
			}
		}()
	})
	paced, err := NewOpusPacedWriter(track)
	if err != nil {
		_ = pc.Close()
		return nil, nil, err
	}
	return pc, paced, nil
}

func (r *Room) readLoop(conn *websocket.Conn, pc *webrtc.PeerConnection, answered chan<- error) {
	signal := func(err error) {
		select {
		case answered <- err:
		default:
		}
	}
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			signal(fmt.Errorf("signaling closed: %w", err))
			return
		}
		var m signalMessage
		if json.Unmarshal(data, &m) != nil {
			continue
		}
		switch strings.ToLower(m.Type) {
		case "answer":
			signal(pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: m.SDP}))
		case "candidate":
			if m.Candidate == "" {
				continue
			}
			if err := pc.AddICECandidate(webrtc.ICECandidateInit{Candidate: m.Candidate, SDPMid: m.SDPMid, SDPMLineIndex: m.SDPMLineIndex}); err != nil {
				r.log.Warn().Err(err).Msg("remote candidate rejected")
			}
		case "error":
			signal(fmt.Errorf("signaling error: %s", m.Error))
		case "bye":
			signal(errors.New("room closed by remote"))
			_ = pc.Close()
			return
		}
	}
}

func (r *Room) send(m signalMessage) error {
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn == nil {
		return ErrNotJoined
	}
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	return conn.WriteJSON(m)
}

// publishMicrophone copies microphone PCM into the paced writer until the
// capture ends. Muted audio is read and discarded so the device stays warm.
func (r *Room) publishMicrophone(ctx context.Context) {
	r.mu.Lock()
	if r.opts.Microphone == nil || r.mic != nil || r.left || r.paced == nil {
		r.mu.Unlock()
		return
	}
	paced := r.paced
	r.mu.Unlock()

	stream, err := r.opts.Microphone.Open(ctx, audio.Constraints{
		Audio: true, SampleRate: opusRate, Channels: 1,
		EchoCancellation: true, NoiseSuppression: true, AutoGainControl: true,
	}, audio.MIMEL16)
	if err != nil {
		r.log.Error().Err(err).Msg("microphone publish failed")
		return
	}
	r.mu.Lock()
	if r.left || r.pc == nil {
		r.mu.Unlock()
		_ = stream.Close()
		return
	}
	r.mic = stream
	r.mu.Unlock()

	buf := make([]byte, pcmFrameBytes)
	for {
		n, err := io.ReadFull(stream, buf)
		if n > 0 && r.MicrophoneEnabled() {
			paced.WritePCM(buf[:n])
		}
		if err != nil {
			return
		}
	}
}

func (r *Room) MicrophoneEnabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.micOn
}

// SetMicrophoneEnabled mutes or unmutes the published microphone.
func (r *Room) SetMicrophoneEnabled(enabled bool) {
	r.mu.Lock()
	r.micOn = enabled
	paced := r.paced
	r.mu.Unlock()
	if !enabled && paced != nil {
		paced.Reset()
	}
	r.log.Info().Bool("enabled", enabled).Msg("microphone toggled")
}

// Leave closes the connection. Calling it again is a no-op.
func (r *Room) Leave() error {
	r.mu.Lock()
	if r.left {
		r.mu.Unlock()
		return nil
	}
	r.left = true
	r.mu.Unlock()
	err := r.close()
	r.setState(StateDisconnected)
	return err
}

// close releases the current connection and allows a later Join.
func (r *Room) close() error {
	r.stopGrace()
	r.mu.Lock()
	conn, pc, paced, mic := r.conn, r.pc, r.paced, r.mic
	r.conn, r.pc, r.paced, r.mic = nil, nil, nil, nil
	r.mu.Unlock()

	if mic != nil {
		_ = mic.Close()
	}
	if paced != nil {
		paced.FlushTail()
		paced.Close()
	}
	if conn != nil {
		r.writeMu.Lock()
		_ = conn.WriteJSON(signalMessage{Type: "bye"})
		r.writeMu.Unlock()
		_ = conn.Close()
	}
	if pc != nil {
		return pc.Close()
	}
	return nil
}

func (r *Room) setState(s ConnectionState) {
	r.mu.Lock()
	if r.state == s {
		r.mu.Unlock()
		return
	}
	r.state = s
	cb := r.opts.OnState
	r.mu.Unlock()
	r.log.Info().Str("state", string(s)).Msg("room state")
	if cb != nil {
		cb(s)
	}
}
