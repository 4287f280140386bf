package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/MindMate-tech/Mind-Mate-Monorepo/internal/audio"
	"github.com/MindMate-tech/Mind-Mate-Monorepo/internal/metrics"
	"github.com/MindMate-tech/Mind-Mate-Monorepo/internal/provision"
	"github.com/MindMate-tech/Mind-Mate-Monorepo/internal/rtc"
	"github.com/MindMate-tech/Mind-Mate-Monorepo/internal/speech"
)

// Orchestrator drives one session through its states.
type Orchestrator struct {
	deps  Deps
	opts  Options
	hooks Hooks
	log   zerolog.Logger

	mu              sync.Mutex
	state           State
	err             error
	avatarSessionID string
	flags           Flags
	sched           *scheduler
	cues            CueDetector
	shutdown        bool
	closed          bool

	// pipeline serialises stop, convert, upload and restart.
	pipeline    sync.Mutex
	syncRunning atomic.Bool

	now func() time.Time
}

func New(deps Deps, opts Options, hooks Hooks, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		deps:  deps,
		opts:  opts.withDefaults(),
		hooks: hooks,
		log:   logger,
		state: StateIdle,
		now:   time.Now,
	}
}

func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Err is the user-facing error of the PermissionDenied and Error states.
func (o *Orchestrator) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.err
}

// AvatarSessionID is empty when provisioning failed.
func (o *Orchestrator) AvatarSessionID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.avatarSessionID
}

func (o *Orchestrator) Flags() Flags {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.flags
}

func (o *Orchestrator) setState(s State, err error) {
	o.mu.Lock()
	if o.state == s && o.err == err {
		o.mu.Unlock()
		return
	}
	o.state, o.err = s, err
	o.mu.Unlock()
	o.announce(s, err)
}

// announce reports a transition already stored under mu.
func (o *Orchestrator) announce(s State, err error) {
	cb := o.hooks.OnState
	ev := o.log.Info()
	if err != nil {
		ev = o.log.Warn().Err(err)
	}
	ev.Str("state", string(s)).Msg("session state")
	metrics.SessionStates.WithLabelValues(string(s)).Inc()
	if cb != nil {
		cb(s, err)
	}
}

// Start runs permission acquisition, avatar provisioning and room join. It is
// allowed from Idle and, as a user retry, from PermissionDenied and Error.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	switch o.state {
	case StateIdle, StatePermissionDenied, StateError:
	default:
		o.mu.Unlock()
		return ErrAlreadyStarted
	}
	o.shutdown = false
	o.sched = newScheduler(context.WithoutCancel(ctx))
	// claimed under mu so a concurrent Start sees ErrAlreadyStarted
	o.state, o.err = StateRequestingPermission, nil
	o.mu.Unlock()
	o.announce(StateRequestingPermission, nil)

	if err := o.requestPermission(ctx); err != nil {
		return err
	}
	o.setState(StatePermissionGranted, nil)

	o.setState(StateProvisioningAvatar, nil)
	o.provisionAvatar(ctx)
	o.schedule(func(s *scheduler) {
		s.Go(func(ctx context.Context) { o.syncCombined(ctx, "session start") })
	})

	if err := o.joinRoom(ctx); err != nil {
		o.stopScheduler()
		o.setState(StateError, err)
		return err
	}
	o.enterConnected()
	return nil
}

func (o *Orchestrator) requestPermission(ctx context.Context) error {
	devices, err := o.deps.Permissions.Acquire(ctx, audio.Constraints{Audio: true, Video: true})
	if err != nil {
		var userErr error
		state := StateError
		switch {
		case errors.Is(err, audio.ErrNotAllowed):
			state = StatePermissionDenied
			userErr = fmt.Errorf("%w: %v", ErrAccessDenied, err)
		case errors.Is(err, audio.ErrNotFound):
			userErr = fmt.Errorf("%w: %v", ErrNoDevice, err)
		default:
			userErr = fmt.Errorf("failed to access camera/microphone: %w", err)
		}
		o.stopScheduler()
		o.setState(state, userErr)
		return userErr
	}
	// the room client claims the devices itself
	if cerr := devices.Close(); cerr != nil {
		o.log.Debug().Err(cerr).Msg("release permission check stream")
	}
	return nil
}

// provisionAvatar never fails the session; the patient keeps the room without an avatar.
func (o *Orchestrator) provisionAvatar(ctx context.Context) {
	token, err := o.deps.Provisioner.Token(ctx, o.opts.RoomName, o.opts.AvatarIdentity)
	if err != nil {
		o.log.Error().Err(err).Msg("avatar token failed, continuing without AI avatar")
		return
	}
	id, err := o.deps.Provisioner.CreateAvatarSession(ctx, provision.AvatarRequest{
		Room:     o.opts.RoomName,
		Token:    token,
		AvatarID: o.opts.AvatarID,
	})
	if err != nil {
		o.log.Error().Err(err).Msg("avatar provisioning failed, continuing without AI avatar")
		return
	}
	o.mu.Lock()
	o.avatarSessionID = id
	o.mu.Unlock()
	o.log.Info().Str("avatar_session_id", id).Msg("avatar session created")
}

func (o *Orchestrator) joinRoom(ctx context.Context) error {
	identity := o.opts.ParticipantIdentity
	if identity == "" {
		identity = fmt.Sprintf("patient-%d", o.now().UnixMilli())
	}
	token, err := o.deps.Provisioner.Token(ctx, o.opts.RoomName, identity)
	if err != nil {
		return fmt.Errorf("room token: %w", err)
	}
	if err := o.deps.Room.Join(ctx, token); err != nil {
		return fmt.Errorf("join room: %w", err)
	}
	o.log.Info().Str("room", o.opts.RoomName).Str("identity", identity).Msg("joined room")
	return nil
}

func (o *Orchestrator) enterConnected() {
	o.setState(StateConnected, nil)
	o.startCues()
	o.schedule(func(s *scheduler) {
		s.Go(o.testConnections)
		s.After(o.opts.SettleDelay, o.bootstrapRecording)
		s.Every(o.opts.SyncInterval, func(ctx context.Context) { o.syncEnded(ctx, "periodic") })
	})
}

func (o *Orchestrator) startCues() {
	if o.deps.Cues == nil {
		o.log.Warn().Msg("speech cues disabled: no recognizer")
		return
	}
	keywords := append(append([]string(nil), o.opts.MemoriesKeywords...), o.opts.ExercisesKeywords...)
	cues := o.deps.Cues(speech.Options{
		Keywords:     keywords,
		Lang:         o.opts.SpeechLang,
		OnTranscript: o.hooks.OnTranscript,
		OnKeyword:    o.HandleKeyword,
		OnError: func(err error) {
			o.log.Warn().Err(err).Msg("speech cue error")
		},
	})
	if cues == nil {
		return
	}
	o.mu.Lock()
	o.cues = cues
	sched := o.sched
	o.mu.Unlock()
	cues.Start(sched.ctx)
}

// HandleKeyword routes a speech cue to the memories or exercises action.
func (o *Orchestrator) HandleKeyword(m speech.KeywordMatch) {
	switch {
	case containsFold(o.opts.MemoriesKeywords, m.Keyword):
		o.mu.Lock()
		o.flags.ShowMemories = true
		o.mu.Unlock()
		o.log.Info().Str("keyword", m.Keyword).Msg("showing memories")
		if o.hooks.OnShowMemories != nil {
			o.hooks.OnShowMemories(m)
		}
	case containsFold(o.opts.ExercisesKeywords, m.Keyword):
		o.mu.Lock()
		o.flags.ExercisesOpen = !o.flags.ExercisesOpen
		open := o.flags.ExercisesOpen
		o.mu.Unlock()
		o.log.Info().Str("keyword", m.Keyword).Bool("open", open).Msg("toggling exercises")
		if o.hooks.OnToggleExercises != nil {
			o.hooks.OnToggleExercises(open, m)
		}
	}
}

// HideMemories clears the memories flag once the caller closes the content.
func (o *Orchestrator) HideMemories() {
	o.mu.Lock()
	o.flags.ShowMemories = false
	o.mu.Unlock()
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

// HandleConnectionState consumes room connection reports. Loss of a
// connected room tears the session down.
func (o *Orchestrator) HandleConnectionState(s rtc.ConnectionState) {
	if o.State() != StateConnected {
		return
	}
	switch s {
	case rtc.StateReconnecting:
		o.log.Warn().Msg("room connection interrupted, waiting for it to recover")
	case rtc.StateDisconnected:
		o.teardown(context.Background(), StateDisconnected, nil)
	case rtc.StateFailed:
		o.teardown(context.Background(), StateError, errors.New("connection to the room failed"))
	}
}

// Close tears the session down and leaves the room. It is safe to call more than once.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	state := o.state
	o.mu.Unlock()

	next := state
	if state == StateConnected {
		next = StateDisconnected
	}
	o.teardown(ctx, next, o.Err())
	if err := o.deps.Room.Leave(); err != nil {
		o.log.Warn().Err(err).Msg("leave room")
	}
	return nil
}

// teardown cancels timers before releasing media, then runs an ended-call sync.
func (o *Orchestrator) teardown(ctx context.Context, next State, err error) {
	o.mu.Lock()
	if o.shutdown {
		o.mu.Unlock()
		return
	}
	o.shutdown = true
	cues := o.cues
	o.cues = nil
	o.mu.Unlock()

	o.stopScheduler()
	if cues != nil {
		cues.Stop()
	}

	// waits for an in-flight batch so nothing restarts the recorder afterwards
	o.pipeline.Lock()
	if blob := o.deps.Recorder.Stop(); blob != nil {
		o.log.Info().Int("bytes", blob.Size()).Msg("recording stopped at teardown")
	}
	o.pipeline.Unlock()

	o.setState(next, err)
	o.syncEnded(ctx, "teardown")
}

func (o *Orchestrator) schedule(fn func(*scheduler)) {
	o.mu.Lock()
	s := o.sched
	o.mu.Unlock()
	if s != nil {
		fn(s)
	}
}

func (o *Orchestrator) stopScheduler() {
	o.mu.Lock()
	s := o.sched
	o.mu.Unlock()
	if s != nil {
		s.Stop()
	}
}

func (o *Orchestrator) isShutdown() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.shutdown || o.closed
}

func (o *Orchestrator) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.opts.OperationTimeout > 0 {
		return context.WithTimeout(ctx, o.opts.OperationTimeout)
	}
	return context.WithCancel(ctx)
}
