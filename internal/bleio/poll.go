package bleio

import "time"

type pendingPoll struct {
	deadline time.Time // zero means no deadline
	reply    chan<- bool
}

// PollManager tracks Poll requests issued while no data was buffered.
// It is owned by the bridge loop and is not safe for concurrent use.
type PollManager struct {
	defaultTimeout time.Duration
	pending        []pendingPoll
}

// NewPollManager returns a manager substituting defaultTimeout for zero timeouts.
func NewPollManager(defaultTimeout time.Duration) *PollManager {
	return &PollManager{defaultTimeout: defaultTimeout}
}

// Add registers reply to be resolved on data arrival or when timeout elapses
// after now. A zero timeout uses the default. A negative timeout, or a zero
// one while the default is zero, waits for data or shutdown only.
func (m *PollManager) Add(now time.Time, timeout time.Duration, reply chan<- bool) {
	if timeout == 0 {
		timeout = m.defaultTimeout
	}
	p := pendingPoll{reply: reply}
	if timeout > 0 {
		p.deadline = now.Add(timeout)
	}
	m.pending = append(m.pending, p)
}

// NotifyAll resolves every pending poll with true and returns how many there were.
func (m *PollManager) NotifyAll() int {
	return m.ResolveAll(true)
}

// CheckTimeouts resolves polls whose deadline is not after now with false.
func (m *PollManager) CheckTimeouts(now time.Time) int {
	expired := 0
	kept := m.pending[:0]
	for _, p := range m.pending {
		if !p.deadline.IsZero() && !now.Before(p.deadline) {
			resolvePoll(p.reply, false)
			expired++
			continue
		}
		kept = append(kept, p)
	}
	clear(m.pending[len(kept):])
	m.pending = kept
	return expired
}

// ResolveAll resolves every pending poll with result and clears the set.
func (m *PollManager) ResolveAll(result bool) int {
	n := len(m.pending)
	for _, p := range m.pending {
		resolvePoll(p.reply, result)
	}
	m.pending = nil
	return n
}

// SetDefault changes the timeout used by future zero-timeout polls.
func (m *PollManager) SetDefault(timeout time.Duration) {
	m.defaultTimeout = timeout
}

// Default returns the current default timeout.
func (m *PollManager) Default() time.Duration {
	return m.defaultTimeout
}

// Len returns the number of pending polls.
func (m *PollManager) Len() int {
	return len(m.pending)
}

// resolvePoll never blocks; a waiter that has gone away simply misses the value.
func resolvePoll(reply chan<- bool, v bool) {
	select {
	case reply <- v:
	default:
	}
}
