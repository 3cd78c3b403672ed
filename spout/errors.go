package spout

import (
	"errors"

	"txspout/internal/cursor"
	"txspout/internal/directory"
)

// Re-exported so hosts can match every failure class from one package.
var (
	ErrDiscovery        = directory.ErrDiscovery
	ErrOffsetResolution = cursor.ErrOffsetResolution
)

var (
	ErrPull                = errors.New("pull failed")
	ErrPartitionResolution = errors.New("partition handle does not resolve")
	ErrReplay              = errors.New("replay failed")
	ErrReplayMismatch      = errors.New("replayed batch differs from metadata")
	ErrNotOwner            = errors.New("partition is owned by another emitter")
)

// Outcome labels one emitter call for logs and metrics.
type Outcome string

const (
	OutcomeEmitted      Outcome = "emitted"
	OutcomeEmpty        Outcome = "empty"
	OutcomeFailed       Outcome = "failed"
	OutcomeReplayed     Outcome = "replayed"
	OutcomeReplayFailed Outcome = "replay_failed"
)
