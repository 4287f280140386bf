package rtc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// answerer plays the room side of signaling: it checks the bearer token,
// answers the offer and records what it saw.
type answerer struct {
	token string

	mu      sync.Mutex
	auth    string
	gotBye  bool
	pcs     []*webrtc.PeerConnection
	failure string
}

func (a *answerer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	a.auth = r.Header.Get("Authorization")
	a.mu.Unlock()
	up := websocket.Upgrader{}
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	var writeMu sync.Mutex
	write := func(m signalMessage) {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.WriteJSON(m)
	}

	var pc *webrtc.PeerConnection
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var m signalMessage
		if json.Unmarshal(data, &m) != nil {
			continue
		}
		switch m.Type {
		case "offer":
			if a.failure != "" {
				write(signalMessage{Type: "error", Error: a.failure})
				continue
			}
			api, err := newAPI()
			if err != nil {
				write(signalMessage{Type: "error", Error: err.Error()})
				continue
			}
			pc, err = api.NewPeerConnection(webrtc.Configuration{})
			if err != nil {
				write(signalMessage{Type: "error", Error: err.Error()})
				continue
			}
			a.mu.Lock()
			a.pcs = append(a.pcs, pc)
			a.mu.Unlock()
			if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: m.SDP}); err != nil {
				write(signalMessage{Type: "error", Error: err.Error()})
				continue
			}
			answer, err := pc.CreateAnswer(nil)
			if err != nil {
				write(signalMessage{Type: "error", Error: err.Error()})
				continue
			}
			_ = pc.SetLocalDescription(answer)
			write(signalMessage{Type: "answer", SDP: answer.SDP})
		case "candidate":
			if pc != nil && m.Candidate != "" {
				_ = pc.AddICECandidate(webrtc.ICECandidateInit{Candidate: m.Candidate, SDPMid: m.SDPMid, SDPMLineIndex: m.SDPMLineIndex})
			}
		case "bye":
			a.mu.Lock()
			a.gotBye = true
			a.mu.Unlock()
			return
		}
	}
}

func (a *answerer) close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, pc := range a.pcs {
		_ = pc.Close()
	}
}

func wsURL(s *httptest.Server) string { return "ws" + strings.TrimPrefix(s.URL, "http") }

func TestRoomJoinAppliesAnswer(t *testing.T) {
	a := &answerer{}
	srv := httptest.NewServer(a)
	defer srv.Close()
	defer a.close()

	var mu sync.Mutex
	var states []ConnectionState
	room := NewRoom(RoomOptions{
		SignalingURL: wsURL(srv),
		OnState: func(s ConnectionState) {
			mu.Lock()
			states = append(states, s)
			mu.Unlock()
		},
	}, zerolog.Nop())

	require.NoError(t, room.Join(context.Background(), "tok-1"))
	a.mu.Lock()
	assert.Equal(t, "Bearer tok-1", a.auth)
	a.mu.Unlock()

	require.NoError(t, room.Leave())
	require.NoError(t, room.Leave())
	assert.Equal(t, StateDisconnected, room.State())
	require.Eventually(t, func() bool {
		a.mu.Lock()
		defer a.mu.Unlock()
		return a.gotBye
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, states)
	assert.Equal(t, StateConnecting, states[0])
	assert.Equal(t, StateDisconnected, states[len(states)-1])

	assert.Error(t, room.Join(context.Background(), "tok-1"))
}

func TestRoomJoinSignalingError(t *testing.T) {
	a := &answerer{failure: "room full"}
	srv := httptest.NewServer(a)
	defer srv.Close()

	room := NewRoom(RoomOptions{SignalingURL: wsURL(srv)}, zerolog.Nop())
	err := room.Join(context.Background(), "tok")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "room full")
	assert.Equal(t, StateFailed, room.State())
}

func TestRoomJoinRequiresSignalingURL(t *testing.T) {
	room := NewRoom(RoomOptions{}, zerolog.Nop())
	assert.Error(t, room.Join(context.Background(), "tok"))
}

func TestRoomMicrophoneToggle(t *testing.T) {
	room := NewRoom(RoomOptions{}, zerolog.Nop())
	assert.True(t, room.MicrophoneEnabled())
	room.SetMicrophoneEnabled(false)
	assert.False(t, room.MicrophoneEnabled())
	room.SetMicrophoneEnabled(true)
	assert.True(t, room.MicrophoneEnabled())
}

func TestParseICEServers(t *testing.T) {
	got := ParseICEServers(`[{"urls":["turn:turn.example.com:3478"],"username":"u","credential":"p"}]`)
	require.Len(t, got, 1)
	assert.Equal(t, []string{"turn:turn.example.com:3478"}, got[0].URLs)

	def := ParseICEServers("")
	require.Len(t, def, 1)
	assert.Equal(t, []string{"stun:stun.l.google.com:19302"}, def[0].URLs)
}

type stateLog struct {
	mu     sync.Mutex
	states []ConnectionState
}

func (l *stateLog) record(s ConnectionState) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states = append(l.states, s)
}

func (l *stateLog) all() []ConnectionState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]ConnectionState(nil), l.states...)
}

func TestRoomRidesOutBriefDisconnect(t *testing.T) {
	var log stateLog
	room := NewRoom(RoomOptions{DisconnectGrace: 50 * time.Millisecond, OnState: log.record}, zerolog.Nop())

	room.onPeerState(webrtc.PeerConnectionStateConnected)
	room.onPeerState(webrtc.PeerConnectionStateDisconnected)
	assert.Equal(t, StateReconnecting, room.State())
	room.onPeerState(webrtc.PeerConnectionStateConnected)

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, StateConnected, room.State())
	assert.Equal(t, []ConnectionState{StateConnected, StateReconnecting, StateConnected}, log.all())
}

func TestRoomReportsLossAfterGrace(t *testing.T) {
	var log stateLog
	room := NewRoom(RoomOptions{DisconnectGrace: 20 * time.Millisecond, OnState: log.record}, zerolog.Nop())

	room.onPeerState(webrtc.PeerConnectionStateConnected)
	room.onPeerState(webrtc.PeerConnectionStateDisconnected)
	require.Eventually(t, func() bool { return room.State() == StateDisconnected }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []ConnectionState{StateConnected, StateReconnecting, StateDisconnected}, log.all())
}

func TestRoomRejoinReplacesDeadPeer(t *testing.T) {
	a := &answerer{}
	srv := httptest.NewServer(a)
	defer srv.Close()
	defer a.close()

	room := NewRoom(RoomOptions{SignalingURL: wsURL(srv)}, zerolog.Nop())
	require.NoError(t, room.Join(context.Background(), "tok-1"))
	defer room.Leave()

	room.mu.Lock()
	first := room.pc
	room.mu.Unlock()
	require.NotNil(t, first)
	require.NoError(t, first.Close())
	require.Eventually(t, func() bool {
		room.mu.Lock()
		defer room.mu.Unlock()
		return room.staleLocked()
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, room.Join(context.Background(), "tok-2"))
	room.mu.Lock()
	second := room.pc
	room.mu.Unlock()
	require.NotNil(t, second)
	assert.NotSame(t, first, second)

	a.mu.Lock()
	defer a.mu.Unlock()
	assert.Len(t, a.pcs, 2)
	assert.Equal(t, "Bearer tok-2", a.auth)
}

func TestRoomJoinKeepsLivePeer(t *testing.T) {
	a := &answerer{}
	srv := httptest.NewServer(a)
	defer srv.Close()
	defer a.close()

	room := NewRoom(RoomOptions{SignalingURL: wsURL(srv)}, zerolog.Nop())
	require.NoError(t, room.Join(context.Background(), "tok-1"))
	defer room.Leave()
	require.NoError(t, room.Join(context.Background(), "tok-1"))

	a.mu.Lock()
	defer a.mu.Unlock()
	assert.Len(t, a.pcs, 1)
}
