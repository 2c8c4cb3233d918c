package pipeline

import (
	"context"
	"errors"

	"github.com/finbert-ci/collector/pkg/config"
	"github.com/finbert-ci/collector/pkg/dedup"
	"github.com/finbert-ci/collector/pkg/reddit"
	"github.com/finbert-ci/collector/pkg/sentiment"
	"github.com/finbert-ci/collector/pkg/sink"
)

// Kind classifies an error for metrics labels and exit-code mapping.
type Kind string

const (
	KindConfig          Kind = "ConfigError"
	KindSourceAuth      Kind = "SourceAuthError"
	KindSourceRateLimit Kind = "SourceRateLimitError"
	KindSourceTransient Kind = "SourceTransientError"
	KindSourceFatal     Kind = "SourceFatalError"
	KindDedupOpen       Kind = "DedupOpenError"
	KindDedupLock       Kind = "DedupLockError"
	KindDedupRead       Kind = "DedupReadError"
	KindDedupWrite      Kind = "DedupWriteError"
	KindClassifierLoad  Kind = "ClassifierLoadError"
	KindClassifierRun   Kind = "ClassifierRuntimeError"
	KindSinkWrite       Kind = "SinkWriteError"
	KindDeadline        Kind = "DeadlineExceeded"
	KindUnknown         Kind = "UnknownError"
)

// Exit codes for the process, derived from the fatal error's kind.
const (
	ExitOK             = 0
	ExitFailure        = 1
	ExitConfig         = 2
	ExitDedup          = 3
	ExitClassifierLoad = 4
	ExitDeadline       = 5
)

// KindOf maps an error to its taxonomy kind via the owning package's
// sentinel errors.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, config.ErrInvalid):
		return KindConfig
	case errors.Is(err, reddit.ErrAuth):
		return KindSourceAuth
	case errors.Is(err, reddit.ErrRateLimit):
		return KindSourceRateLimit
	case errors.Is(err, reddit.ErrTransient):
		return KindSourceTransient
	case errors.Is(err, reddit.ErrFatal):
		return KindSourceFatal
	case errors.Is(err, dedup.ErrLocked):
		return KindDedupLock
	case errors.Is(err, dedup.ErrOpen):
		return KindDedupOpen
	case errors.Is(err, dedup.ErrRead):
		return KindDedupRead
	case errors.Is(err, dedup.ErrWrite):
		return KindDedupWrite
	case errors.Is(err, sentiment.ErrModelLoad):
		return KindClassifierLoad
	case errors.Is(err, sentiment.ErrForward):
		return KindClassifierRun
	case errors.Is(err, sink.ErrWrite), errors.Is(err, sink.ErrOpen), errors.Is(err, sink.ErrLocked):
		return KindSinkWrite
	case errors.Is(err, context.DeadlineExceeded):
		return KindDeadline
	default:
		return KindUnknown
	}
}

// ExitCode maps a fatal error to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	switch KindOf(err) {
	case KindConfig:
		return ExitConfig
	case KindDedupOpen, KindDedupLock:
		return ExitDedup
	case KindClassifierLoad:
		return ExitClassifierLoad
	case KindDeadline:
		return ExitDeadline
	default:
		return ExitFailure
	}
}
