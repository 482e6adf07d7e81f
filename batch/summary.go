package batch

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Outcome describes one written recording.
type Outcome struct {
	Target       string
	Output       string
	Frames       int
	Chunks       int
	MeanDistance float64
	Elapsed      time.Duration
}

// Skip describes a recording that was not written.
type Skip struct {
	Target string
	Err    error
}

// Summary reports a run in enumeration order. Pending counts recordings that
// were never started or were abandoned after cancellation.
type Summary struct {
	Completed []Outcome
	Skipped   []Skip
	Pending   int
}

// Total returns the number of recordings the run was given.
func (s *Summary) Total() int {
	return len(s.Completed) + len(s.Skipped) + s.Pending
}

func (s *Summary) String() string {
	msg := fmt.Sprintf("%d recordings: %d written, %d skipped", s.Total(), len(s.Completed), len(s.Skipped))
	if s.Pending > 0 {
		msg += fmt.Sprintf(", %d not processed", s.Pending)
	}
	return msg
}

// Report renders the summary line followed by one line per skipped recording.
func (s *Summary) Report() string {
	var b strings.Builder
	b.WriteString(s.String())
	b.WriteByte('\n')
	for _, sk := range s.Skipped {
		fmt.Fprintf(&b, "  skipped %s: %v\n", filepath.Base(sk.Target), sk.Err)
	}
	return b.String()
}
