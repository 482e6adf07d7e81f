package synth

import "context"

// MatchResult records the donor chosen for one target chunk.
type MatchResult struct {
	Target   Chunk
	Donor    Chunk
	Distance float64
}

// Matcher selects the nearest donor chunk for target chunks. There is no
// rejection threshold: the nearest donor is always accepted.
type Matcher struct {
	extractor Extractor
	index     *Index
}

// NewMatcher pairs an extractor with an index built from the same extractor.
func NewMatcher(ex Extractor, ix *Index) *Matcher {
	return &Matcher{extractor: ex, index: ix}
}

// Match describes c and queries the index.
func (m *Matcher) Match(c Chunk) MatchResult {
	donor, dist := m.index.Query(m.extractor.Extract(c))
	return MatchResult{Target: c, Donor: donor, Distance: dist}
}

// MatchAll matches every chunk in order. ctx is checked between chunks, so
// cancellation never interrupts a chunk halfway.
func (m *Matcher) MatchAll(ctx context.Context, chunks Chunks) ([]MatchResult, error) {
	out := make([]MatchResult, 0, chunks.Len())
	for c := range chunks.All() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out = append(out, m.Match(c))
	}
	return out, nil
}
