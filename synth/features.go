package synth

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"
	"strings"
	"sync"

	algofft "github.com/cwbudde/algo-fft"
	"gonum.org/v1/gonum/floats"
)

// Descriptor summarizes a chunk's content for similarity comparison.
type Descriptor []float64

// Extractor maps a chunk to a fixed-size Descriptor. Implementations must be
// deterministic: identical samples always yield identical descriptors.
type Extractor interface {
	Dim() int
	Extract(c Chunk) Descriptor
}

// ErrUnknownExtractor is returned by NewExtractor for unregistered names.
var ErrUnknownExtractor = errors.New("unknown feature extractor")

// Extractor names accepted by NewExtractor.
const (
	FeaturesSpectral = "spectral"
	FeaturesEnergy   = "energy"
)

// NewExtractor resolves an extractor by name.
func NewExtractor(name string) (Extractor, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", FeaturesSpectral:
		return NewSpectralExtractor()
	case FeaturesEnergy:
		return EnergyExtractor{}, nil
	default:
		return nil, fmt.Errorf("%w: %q (valid: %s, %s)", ErrUnknownExtractor, name, FeaturesSpectral, FeaturesEnergy)
	}
}

const (
	spectralFFTSize = 2048
	spectralHop     = spectralFFTSize / 2

	// levelFloorDB bounds every level so silence stays finite.
	levelFloorDB = -120.0
	powerFloor   = 1e-12
)

type band struct {
	loHz float64
	hiHz float64
}

var spectralBands = []band{
	{20, 100},
	{100, 300},
	{300, 1000},
	{1000, 3000},
	{3000, 6000},
	{6000, 12000},
	{12000, 20000},
}

// SpectralExtractor describes a chunk by level, zero-crossing rate, spectral
// centroid and seven band levels from an averaged Hann-windowed STFT.
// Bands are defined in Hz, so descriptors compare across sample rates.
type SpectralExtractor struct {
	hann []float64
	pool sync.Pool
}

type fftWorkspace struct {
	forward func(dst []complex128, src []float64)
	frame   []float64
	spec    []complex128
}

func newFFTWorkspace() (*fftWorkspace, error) {
	plan, err := algofft.NewPlanReal64(spectralFFTSize)
	if err != nil {
		return nil, fmt.Errorf("fft plan: %w", err)
	}
	return &fftWorkspace{
		forward: func(dst []complex128, src []float64) { plan.Forward(dst, src) },
		frame:   make([]float64, spectralFFTSize),
		spec:    make([]complex128, spectralFFTSize/2+1),
	}, nil
}

// NewSpectralExtractor creates the default extractor.
func NewSpectralExtractor() (*SpectralExtractor, error) {
	first, err := newFFTWorkspace()
	if err != nil {
		return nil, err
	}
	e := &SpectralExtractor{hann: hannWindow(spectralFFTSize)}
	e.pool.New = func() any {
		ws, err := newFFTWorkspace()
		if err != nil {
			// The first plan of the same size succeeded.
			panic(err)
		}
		return ws
	}
	e.pool.Put(first)
	return e, nil
}

// Dim implements Extractor.
func (e *SpectralExtractor) Dim() int { return 3 + len(spectralBands) }

// Extract implements Extractor.
func (e *SpectralExtractor) Extract(c Chunk) Descriptor {
	x := c.Mono()
	d := make(Descriptor, e.Dim())
	d[0] = levelDB(rms(x)) / 20
	d[1] = zeroCrossingRate(x)

	power := e.averagePower(x)
	binHz := float64(c.Buffer.SampleRate) / spectralFFTSize

	var num, den float64
	for k := 1; k < len(power); k++ {
		num += float64(k) * binHz * power[k]
		den += power[k]
	}
	centroid := 20.0
	if den > powerFloor {
		centroid = math.Max(num/den, 20)
	}
	d[2] = math.Log2(centroid / 1000)

	for i, b := range spectralBands {
		d[3+i] = bandLevelDB(power, binHz, b) / 20
	}
	return d
}

// averagePower returns the mean per-bin power over STFT frames of x.
func (e *SpectralExtractor) averagePower(x []float64) []float64 {
	ws := e.pool.Get().(*fftWorkspace)
	defer e.pool.Put(ws)

	power := make([]float64, spectralFFTSize/2+1)
	if len(x) == 0 {
		return power
	}

	accumulate := func(seg []float64, win []float64) {
		clear(ws.frame)
		var wEnergy float64
		for i, v := range seg {
			ws.frame[i] = v * win[i]
			wEnergy += win[i] * win[i]
		}
		if wEnergy <= 0 {
			return
		}
		ws.forward(ws.spec, ws.frame)
		for k, z := range ws.spec {
			m := cmplx.Abs(z)
			power[k] += m * m / wEnergy
		}
	}

	frames := 0
	if len(x) < spectralFFTSize {
		accumulate(x, hannWindow(len(x)))
		frames = 1
	} else {
		for pos := 0; pos+spectralFFTSize <= len(x); pos += spectralHop {
			accumulate(x[pos:pos+spectralFFTSize], e.hann)
			frames++
		}
	}
	floats.Scale(1/float64(frames), power)
	return power
}

func bandLevelDB(power []float64, binHz float64, b band) float64 {
	lo := int(math.Ceil(b.loHz / binHz))
	hi := int(math.Floor(b.hiHz / binHz))
	if lo < 1 {
		lo = 1
	}
	if hi > len(power)-1 {
		hi = len(power) - 1
	}
	if lo > hi {
		return levelFloorDB
	}
	mean := floats.Sum(power[lo:hi+1]) / float64(hi-lo+1)
	return powerDB(mean)
}

// EnergyExtractor is a time-domain extractor: level, peak, crest factor,
// zero-crossing rate and the level of four equal sub-segments.
type EnergyExtractor struct{}

const energySegments = 4

// Dim implements Extractor.
func (EnergyExtractor) Dim() int { return 4 + energySegments }

// Extract implements Extractor.
func (EnergyExtractor) Extract(c Chunk) Descriptor {
	x := c.Mono()
	d := make(Descriptor, 4+energySegments)
	r := rms(x)
	p := peak(x)
	d[0] = levelDB(r) / 20
	d[1] = levelDB(p) / 20
	d[2] = (levelDB(p) - levelDB(r)) / 20
	d[3] = zeroCrossingRate(x)
	for s := 0; s < energySegments; s++ {
		lo := s * len(x) / energySegments
		hi := (s + 1) * len(x) / energySegments
		d[4+s] = levelDB(rms(x[lo:hi])) / 20
	}
	return d
}

// Weights scales descriptor dimensions; a zero weight drops a dimension.
type Weights []float64

// UnitWeights returns n weights of 1.
func UnitWeights(n int) Weights {
	w := make(Weights, n)
	for i := range w {
		w[i] = 1
	}
	return w
}

// Apply returns a weighted copy of d.
func (w Weights) Apply(d Descriptor) Descriptor {
	out := make(Descriptor, len(d))
	copy(out, d)
	floats.Mul(out, w)
	return out
}

// Weighted wraps an Extractor and scales its output.
type Weighted struct {
	Extractor Extractor
	Weights   Weights
}

// NewWeighted validates w against ex. A nil w means unit weights.
func NewWeighted(ex Extractor, w Weights) (Weighted, error) {
	if w == nil {
		w = UnitWeights(ex.Dim())
	}
	if len(w) != ex.Dim() {
		return Weighted{}, fmt.Errorf("got %d weights for a %d-dimensional extractor", len(w), ex.Dim())
	}
	for i, v := range w {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return Weighted{}, fmt.Errorf("weight %d must be finite and >= 0, got %v", i, v)
		}
	}
	return Weighted{Extractor: ex, Weights: w}, nil
}

// Dim implements Extractor.
func (w Weighted) Dim() int { return w.Extractor.Dim() }

// Extract implements Extractor.
func (w Weighted) Extract(c Chunk) Descriptor {
	return w.Weights.Apply(w.Extractor.Extract(c))
}

func hannWindow(n int) []float64 {
	w := make([]float64, n)
	if n == 1 {
		w[0] = 1
		return w
	}
	for i := range w {
		w[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n-1))
	}
	return w
}

func rms(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	return math.Sqrt(floats.Dot(x, x) / float64(len(x)))
}

func peak(x []float64) float64 {
	var p float64
	for _, v := range x {
		if a := math.Abs(v); a > p {
			p = a
		}
	}
	return p
}

func zeroCrossingRate(x []float64) float64 {
	if len(x) < 2 {
		return 0
	}
	n := 0
	for i := 1; i < len(x); i++ {
		if (x[i-1] >= 0) != (x[i] >= 0) {
			n++
		}
	}
	return float64(n) / float64(len(x)-1)
}

func levelDB(amp float64) float64 {
	if amp <= 0 {
		return levelFloorDB
	}
	return math.Max(20*math.Log10(amp), levelFloorDB)
}

func powerDB(p float64) float64 {
	if p <= powerFloor {
		return levelFloorDB
	}
	return math.Max(10*math.Log10(p), levelFloorDB)
}
