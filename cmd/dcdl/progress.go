package main

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/fatih/color"
	"github.com/srg/dcdl/internal/session"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

// StatePrinter redraws the session state on one terminal line.
//
// Usage:
//
//	p := NewStatePrinter(os.Stderr, dc.State)
//	p.Start()
//	defer p.Stop()
//
// A StatePrinter is single-use. Start may be called at most once; Stop is
// safe to call any number of times.
type StatePrinter struct {
	w         io.Writer
	state     func() session.State
	startTime time.Time
	ticker    atomic.Pointer[time.Ticker]
	stopChan  chan struct{}
	done      chan struct{}
	started   atomic.Bool
}

func NewStatePrinter(w io.Writer, state func() session.State) *StatePrinter {
	return &StatePrinter{w: w, state: state}
}

// Start begins redrawing in a background goroutine.
// Panics if called more than once on the same StatePrinter instance.
// A nil printer does nothing.
func (p *StatePrinter) Start() {
	if p == nil {
		return
	}
	if !p.started.CompareAndSwap(false, true) {
		panic("StatePrinter.Start called more than once")
	}

	p.done = make(chan struct{})
	p.stopChan = make(chan struct{})
	p.startTime = time.Now()
	ticker := time.NewTicker(progressUpdateInterval)
	p.ticker.Store(ticker)

	p.print()
	go func() {
		defer close(p.done)
		for {
			select {
			case <-p.stopChan:
				return
			case <-ticker.C:
				p.print()
			}
		}
	}()
}

func (p *StatePrinter) print() {
	line := formatState(p.state())
	seconds := int(time.Since(p.startTime).Seconds())
	fmt.Fprintf(p.w, "%s%s (%ds)", clearLineSequence, line, seconds)
}

// Stop stops the redraw loop and clears the line.
func (p *StatePrinter) Stop() {
	if p == nil {
		return
	}
	ticker := p.ticker.Swap(nil)
	if ticker == nil {
		return // Already stopped or never started
	}

	ticker.Stop()
	close(p.stopChan)
	<-p.done

	fmt.Fprint(p.w, clearLineSequence)
}

var (
	errorStyle    = color.New(color.FgRed, color.Bold)
	waitingStyle  = color.New(color.FgYellow)
	progressStyle = color.New(color.FgCyan)
)

// formatState renders a state line, colored by kind.
func formatState(s session.State) string {
	text := s.String()
	if s.CurrentTask != "" {
		text += " - " + s.CurrentTask
	}

	switch s.Kind {
	case session.KindError:
		return errorStyle.Sprint(text)
	case session.KindWaitingForUser:
		return waitingStyle.Sprint(text)
	case session.KindDownloading, session.KindConnecting, session.KindScanning:
		return progressStyle.Sprint(text)
	}
	return text
}

// statusPrinter returns a printer for interactive output and nil otherwise.
func statusPrinter(w io.Writer, state func() session.State) *StatePrinter {
	if !isTerminal(w) {
		return nil
	}
	return NewStatePrinter(w, state)
}
