package session

import (
	"time"

	"github.com/MindMate-tech/Mind-Mate-Monorepo/internal/config"
)

const (
	DefaultRoomName       = "dementia-care-room"
	DefaultAvatarIdentity = "ai-therapist"
	DefaultAvatarID       = "694c83e2-8895-4a98-bd16-56332ca3f449"
)

type Options struct {
	RoomName       string
	AvatarIdentity string
	AvatarID       string
	// ParticipantIdentity names the patient in the room; empty means patient-<unix ms>.
	ParticipantIdentity string

	MemoriesKeywords  []string
	ExercisesKeywords []string
	SpeechLang        string

	SyncLookback int

	BatchInterval      time.Duration
	SyncInterval       time.Duration
	SettleDelay        time.Duration
	RecorderRetryDelay time.Duration

	UploadAttempts  int
	UploadBaseDelay time.Duration
	UploadMaxDelay  time.Duration

	// OperationTimeout bounds each convert, upload and sync call. Zero disables it.
	OperationTimeout time.Duration
}

func DefaultOptions() Options {
	return Options{
		RoomName:           DefaultRoomName,
		AvatarIdentity:     DefaultAvatarIdentity,
		AvatarID:           DefaultAvatarID,
		MemoriesKeywords:   []string{"i don't know"},
		ExercisesKeywords:  []string{"are you ready for the exercises"},
		SpeechLang:         "en-US",
		SyncLookback:       100,
		BatchInterval:      30 * time.Second,
		SyncInterval:       5 * time.Minute,
		SettleDelay:        3 * time.Second,
		RecorderRetryDelay: 3 * time.Second,
		UploadAttempts:     3,
		UploadBaseDelay:    time.Second,
		UploadMaxDelay:     5 * time.Second,
		OperationTimeout:   2 * time.Minute,
	}
}

// OptionsFromConfig overlays configured values on DefaultOptions.
func OptionsFromConfig(cfg config.Config) Options {
	o := DefaultOptions()
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&o.RoomName, cfg.RoomName)
	set(&o.AvatarIdentity, cfg.AvatarIdentity)
	set(&o.AvatarID, cfg.AvatarID)
	set(&o.ParticipantIdentity, cfg.ParticipantName)
	set(&o.SpeechLang, cfg.SpeechLang)
	if len(cfg.MemoriesKeywords) > 0 {
		o.MemoriesKeywords = cfg.MemoriesKeywords
	}
	if len(cfg.ExercisesKeywords) > 0 {
		o.ExercisesKeywords = cfg.ExercisesKeywords
	}
	if cfg.SyncLookback > 0 {
		o.SyncLookback = cfg.SyncLookback
	}
	durations := []struct {
		dst *time.Duration
		v   time.Duration
	}{
		{&o.BatchInterval, cfg.BatchInterval},
		{&o.SyncInterval, cfg.SyncInterval},
		{&o.SettleDelay, cfg.SettleDelay},
		{&o.OperationTimeout, cfg.OperationTimeout},
	}
	for _, d := range durations {
		if d.v > 0 {
			*d.dst = d.v
		}
	}
	return o
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.RoomName == "" {
		o.RoomName = d.RoomName
	}
	if o.AvatarIdentity == "" {
		o.AvatarIdentity = d.AvatarIdentity
	}
	if o.AvatarID == "" {
		o.AvatarID = d.AvatarID
	}
	if o.SpeechLang == "" {
		o.SpeechLang = d.SpeechLang
	}
	if o.SyncLookback <= 0 {
		o.SyncLookback = d.SyncLookback
	}
	if o.BatchInterval <= 0 {
		o.BatchInterval = d.BatchInterval
	}
	if o.SyncInterval <= 0 {
		o.SyncInterval = d.SyncInterval
	}
	if o.SettleDelay < 0 {
		o.SettleDelay = 0
	}
	if o.RecorderRetryDelay <= 0 {
		o.RecorderRetryDelay = d.RecorderRetryDelay
	}
	if o.UploadAttempts <= 0 {
		o.UploadAttempts = d.UploadAttempts
	}
	if o.UploadBaseDelay <= 0 {
		o.UploadBaseDelay = d.UploadBaseDelay
	}
	if o.UploadMaxDelay <= 0 {
		o.UploadMaxDelay = d.UploadMaxDelay
	}
	return o
}
