// Package speech watches continuous speech recognition for keyword cues.
package speech

import (
	"context"
	"errors"
)

// ErrorCode classifies recognizer failures.
type ErrorCode string

const (
	CodeNoSpeech     ErrorCode = "no-speech"
	CodeAudioCapture ErrorCode = "audio-capture"
	CodeNetwork      ErrorCode = "network"
	CodeNotAllowed   ErrorCode = "not-allowed"
	CodeOther        ErrorCode = "other"
)

var ErrUnsupported = errors.New("speech recognition is not supported")

// Event is one recognizer notification: a transcript update or an error.
type Event struct {
	Text  string
	Final bool
	Err   error
	Code  ErrorCode
}

// Recognizer is a continuous speech-to-text capability. Each Start begins a
// run whose event channel is closed when the run ends for any reason.
type Recognizer interface {
	Start(ctx context.Context, lang string) (<-chan Event, error)
	// Stop ends the current run.
	Stop()
}

// KeywordMatch is raised when a finalized segment contains a configured phrase.
type KeywordMatch struct {
	Keyword    string
	Transcript string
}
