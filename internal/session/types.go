// Package session runs one patient session: permissions, avatar provisioning,
// room join, rotating audio batches and call record sync.
package session

import (
	"context"
	"errors"

	"github.com/MindMate-tech/Mind-Mate-Monorepo/internal/audio"
	"github.com/MindMate-tech/Mind-Mate-Monorepo/internal/callsync"
	"github.com/MindMate-tech/Mind-Mate-Monorepo/internal/provision"
	"github.com/MindMate-tech/Mind-Mate-Monorepo/internal/speech"
)

type State string

const (
	StateIdle                 State = "idle"
	StateRequestingPermission State = "requesting_permission"
	StatePermissionDenied     State = "permission_denied"
	StatePermissionGranted    State = "permission_granted"
	StateProvisioningAvatar   State = "provisioning_avatar"
	StateConnected            State = "connected"
	StateDisconnected         State = "disconnected"
	StateError                State = "error"
)

var (
	ErrBusy           = errors.New("session: an upload is already in progress")
	ErrNotConnected   = errors.New("session: not connected")
	ErrNoAudio        = errors.New("session: no audio recorded")
	ErrAlreadyStarted = errors.New("session: already started")
	ErrClosed         = errors.New("session: closed")

	ErrAccessDenied = errors.New("camera and microphone access was denied; allow access and try again")
	ErrNoDevice     = errors.New("no camera or microphone found; connect a device and try again")
)

// Provisioner is the token and avatar provisioning boundary.
type Provisioner interface {
	Token(ctx context.Context, room, identity string) (string, error)
	CreateAvatarSession(ctx context.Context, req provision.AvatarRequest) (string, error)
}

// Room is the real-time room connection. Connection state changes are
// delivered to Orchestrator.HandleConnectionState by the caller.
type Room interface {
	Join(ctx context.Context, token string) error
	Leave() error
}

type Recorder interface {
	Start(ctx context.Context) error
	// Stop returns nil when nothing was recording.
	Stop() *audio.Blob
	Active() bool
}

type Converter interface {
	ToWAV(ctx context.Context, b *audio.Blob) (*audio.Blob, error)
}

type Uploader interface {
	Upload(ctx context.Context, b *audio.Blob) (string, error)
	Bucket() string
}

type Synchronizer interface {
	SyncEnded(ctx context.Context, limit int) (callsync.Result, error)
	SyncCombined(ctx context.Context, limit int) (callsync.Result, error)
	TestConnections(ctx context.Context) callsync.ConnectionReport
}

type CueDetector interface {
	Start(ctx context.Context)
	Stop()
}

// Deps are the collaborators of one Orchestrator. Converter, Sync and Cues
// may be nil; the matching features are skipped.
type Deps struct {
	Permissions audio.Permissions
	Provisioner Provisioner
	Room        Room
	Recorder    Recorder
	Converter   Converter
	Uploader    Uploader
	Sync        Synchronizer
	// Cues builds the speech cue detector from the keyword options the orchestrator owns.
	Cues func(speech.Options) CueDetector
}

// Hooks notify the caller about UI-visible changes. All are optional and are
// called without internal locks held.
type Hooks struct {
	OnState           func(State, error)
	OnTranscript      func(text string)
	OnShowMemories    func(speech.KeywordMatch)
	OnToggleExercises func(open bool, m speech.KeywordMatch)
	OnBatchUploaded   func(url string)
}

// Flags are the caller-visible toggles driven by speech cues.
type Flags struct {
	ShowMemories  bool
	ExercisesOpen bool
}
