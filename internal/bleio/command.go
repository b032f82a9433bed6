package bleio

import "time"

// command is one message to the bridge loop. Every command except
// setTimeoutCmd carries a reply channel of capacity 1 that the loop resolves
// exactly once.
type command interface {
	name() string
}

type writeResult struct {
	n   int
	err error
}

type writeCmd struct {
	data  []byte
	reply chan writeResult
}

type readCmd struct {
	size  int
	reply chan readResult
}

type pollCmd struct {
	timeout time.Duration
	reply   chan bool
}

type readCharacteristicCmd struct {
	uuid  string
	reply chan readResult
}

type setTimeoutCmd struct {
	timeout time.Duration
}

type disconnectCmd struct {
	reply chan error
}

// Stats is a snapshot of the bridge's queues.
type Stats struct {
	BufferedChunks int
	BufferedBytes  int
	PendingReads   int
	PendingPolls   int
}

type statsCmd struct {
	reply chan Stats
}

func (writeCmd) name() string              { return "write" }
func (readCmd) name() string               { return "read" }
func (pollCmd) name() string               { return "poll" }
func (readCharacteristicCmd) name() string { return "read-characteristic" }
func (setTimeoutCmd) name() string         { return "set-timeout" }
func (disconnectCmd) name() string         { return "disconnect" }
func (statsCmd) name() string              { return "stats" }
