package synth

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/cwbudde/algo-chainlink/audio"
)

// ErrIncompleteMatches indicates matches that do not tile the target exactly.
var ErrIncompleteMatches = errors.New("matches do not cover the target")

// DefaultCrossfade is the boundary blend length.
const DefaultCrossfade = 5 * time.Millisecond

// Assembler stitches matched donor chunks into an output with the target's
// layout.
type Assembler struct {
	crossfade time.Duration
}

// NewAssembler returns an assembler with the given crossfade; zero disables
// blending.
func NewAssembler(crossfade time.Duration) *Assembler {
	return &Assembler{crossfade: max(crossfade, 0)}
}

// Crossfade returns the configured blend length.
func (a *Assembler) Crossfade() time.Duration { return a.crossfade }

// Assemble renders matches into a buffer with the target's rate, bit depth,
// channel count and frame count.
//
// Each donor is rate-converted and channel-mapped to the target layout. At an
// internal boundary the previous donor keeps playing past its chunk end and
// fades out linearly while the next chunk fades in, over
// min(crossfade, prev/2, next/2) frames at the start of the next chunk.
func (a *Assembler) Assemble(target *audio.Buffer, matches []MatchResult) (*audio.Buffer, error) {
	if err := checkCoverage(target, matches); err != nil {
		return nil, err
	}

	out := audio.NewBuffer(target.SampleRate, target.BitDepth, target.NumChannels(), target.Frames())
	out.Name = target.Name
	fade := int(math.Round(a.crossfade.Seconds() * float64(target.SampleRate)))

	var prevTail [][]float64
	for i, m := range matches {
		n := m.Target.Length
		tail := 0
		if fade > 0 && i < len(matches)-1 {
			tail = fade
		}
		seg, err := renderDonor(m.Donor, target, n+tail)
		if err != nil {
			return nil, fmt.Errorf("chunk %d: %w", i, err)
		}

		off := m.Target.Offset
		for c := range out.Channels {
			copy(out.Channels[c][off:off+n], seg[c][:n])
		}

		if i > 0 && fade > 0 {
			f := min(fade, matches[i-1].Target.Length/2, n/2)
			for j := 0; j < f; j++ {
				t := float64(j+1) / float64(f+1)
				for c := range out.Channels {
					out.Channels[c][off+j] = prevTail[c][j]*(1-t) + seg[c][j]*t
				}
			}
		}

		prevTail = prevTail[:0]
		for c := range seg {
			prevTail = append(prevTail, seg[c][n:])
		}
	}
	return out, nil
}

// renderDonor returns frames samples per target channel starting at the
// donor chunk's offset, converted to the target rate and channel count.
// Frames past the donor buffer's end are silent.
func renderDonor(d Chunk, target *audio.Buffer, frames int) ([][]float64, error) {
	src := d.Buffer
	need := frames
	if src.SampleRate != target.SampleRate {
		need = audio.ResampledLength(frames, target.SampleRate, src.SampleRate) + 2
	}
	end := min(d.Offset+need, src.Frames())

	chans := make([][]float64, src.NumChannels())
	for c := range chans {
		x := src.Channels[c][d.Offset:end]
		if src.SampleRate != target.SampleRate {
			var err error
			x, err = audio.Resample(x, src.SampleRate, target.SampleRate)
			if err != nil {
				return nil, fmt.Errorf("resample %d->%d Hz: %w", src.SampleRate, target.SampleRate, err)
			}
		}
		chans[c] = audio.Fit(x, frames)
	}
	return audio.MapChannels(chans, target.NumChannels()), nil
}

func checkCoverage(target *audio.Buffer, matches []MatchResult) error {
	next := 0
	for i, m := range matches {
		if m.Target.Offset != next || m.Target.Length <= 0 {
			return fmt.Errorf("%w: match %d covers [%d,%d), expected start %d",
				ErrIncompleteMatches, i, m.Target.Offset, m.Target.End(), next)
		}
		if m.Donor.Buffer == nil || m.Donor.Buffer.NumChannels() == 0 {
			return fmt.Errorf("%w: match %d has no donor", ErrIncompleteMatches, i)
		}
		next = m.Target.End()
	}
	if next != target.Frames() {
		return fmt.Errorf("%w: matches end at %d of %d frames", ErrIncompleteMatches, next, target.Frames())
	}
	return nil
}
