// Package session drives a multipart archive upload from start to finish.
//
// An upload walks through Initiating, PartLoop and Completing and ends in either Completed or
// Aborted. The stream is chunked and tree hashed in order on the calling goroutine while the
// parts are transmitted in parallel. Any failure after the remote session exists aborts it
// before the error is returned, so no orphaned multipart upload is left behind.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bitrise-io/glacier-backup/treehash"
)

// State of an upload session.
type State int

// Session states. A session passes through each state at most once.
const (
	Initiating State = iota
	PartLoop
	Completing
	Completed
	Aborted
)

func (s State) String() string {
	switch s {
	case Initiating:
		return "initiating"
	case PartLoop:
		return "part-loop"
	case Completing:
		return "completing"
	case Completed:
		return "completed"
	case Aborted:
		return "aborted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var transitions = map[State][]State{
	Initiating: {PartLoop},
	PartLoop:   {Completing, Aborted},
	Completing: {Completed, Aborted},
}

// ErrInvalidTransition is returned when a session is moved to a state it cannot reach.
var ErrInvalidTransition = errors.New("invalid session state transition")

// Session is the bookkeeping of one multipart upload. It is created by Uploader.Upload and
// never reused: a retry of a failed upload starts a new Session.
type Session struct {
	ID       string
	Location string
	VaultID  string
	Region   string
	PartSize int64
	DryRun   bool

	mu               sync.Mutex
	state            State
	bytesTransmitted int64
	partsTransmitted int
	hashes           *treehash.Accumulator
	startedAt        time.Time
}

func newSession(config Config) *Session {
	return &Session{
		VaultID:   config.VaultID,
		Region:    config.Region,
		PartSize:  config.PartSize,
		DryRun:    config.DryRun,
		state:     Initiating,
		hashes:    treehash.New(),
		startedAt: time.Now(),
	}
}

// State ...
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// BytesTransmitted returns the number of bytes the store acknowledged so far.
func (s *Session) BytesTransmitted() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytesTransmitted
}

// PartsTransmitted returns the number of parts the store acknowledged so far.
func (s *Session) PartsTransmitted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.partsTransmitted
}

func (s *Session) transition(to State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, allowed := range transitions[s.state] {
		if allowed == to {
			s.state = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.state, to)
}

func (s *Session) recordTransmitted(size int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bytesTransmitted += size
	s.partsTransmitted++
}

// Result describes a completed upload.
type Result struct {
	ArchiveID string
	Checksum  string
	SessionID string
	Location  string
	Size      int64
	Parts     int
	Duration  time.Duration
}
