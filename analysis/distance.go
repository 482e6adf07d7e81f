// Package analysis measures how closely a synthesized recording reproduces
// its target.
package analysis

import (
	"math"
	"math/cmplx"

	algofft "github.com/cwbudde/algo-fft"

	"github.com/cwbudde/algo-chainlink/audio"
)

// Metrics contains distance and similarity measurements between a target
// and its reconstruction. Both signals share a time axis; no lag search is
// done.
type Metrics struct {
	SampleRate int `json:"sample_rate"`

	ReferenceFrames int `json:"reference_frames"`
	CandidateFrames int `json:"candidate_frames"`
	ComparedFrames  int `json:"compared_frames"`

	TimeRMSE       float64 `json:"time_rmse"`
	SNRDB          float64 `json:"snr_db"`
	EnvelopeRMSEDB float64 `json:"envelope_rmse_db"`
	SpectralRMSEDB float64 `json:"spectral_rmse_db"`

	TimeNorm     float64 `json:"time_norm"`
	EnvelopeNorm float64 `json:"envelope_norm"`
	SpectralNorm float64 `json:"spectral_norm"`
	Dominant     string  `json:"dominant"`

	Score      float64 `json:"score"`
	Similarity float64 `json:"similarity"`
}

// Score weights of the normalized components.
const (
	WeightTime     = 0.30
	WeightEnvelope = 0.35
	WeightSpectral = 0.35
)

const (
	envFrame     = 256
	envHop       = 128
	spectralSize = 2048
	spectralHop  = 1024
	minCompared  = 256
	snrCeilingDB = 120.0
)

// CompareBuffers compares the mono mixdowns of two buffers. Candidates at a
// different rate are resampled to the reference rate first.
func CompareBuffers(reference, candidate *audio.Buffer) (Metrics, error) {
	ref := reference.Mono(0, reference.Frames())
	cand := candidate.Mono(0, candidate.Frames())
	if candidate.SampleRate != reference.SampleRate {
		var err error
		cand, err = audio.Resample(cand, candidate.SampleRate, reference.SampleRate)
		if err != nil {
			return Metrics{}, err
		}
	}
	return Compare(ref, cand, reference.SampleRate), nil
}

// Compare returns objective distance metrics and a combined score in [0,1]
// where 0 is identical.
func Compare(reference []float64, candidate []float64, sampleRate int) Metrics {
	m := Metrics{
		SampleRate:      sampleRate,
		ReferenceFrames: len(reference),
		CandidateFrames: len(candidate),
	}
	n := min(len(reference), len(candidate))
	if sampleRate <= 0 || n < minCompared {
		m.Score = 1.0
		m.Similarity = 0.0
		return m
	}
	ref := reference[:n]
	cand := candidate[:n]
	m.ComparedFrames = n

	m.TimeRMSE = rmse(ref, cand)
	m.SNRDB = snrDB(ref, m.TimeRMSE)

	refEnv := rmsEnvelope(ref, envFrame, envHop)
	candEnv := rmsEnvelope(cand, envFrame, envHop)
	if len(refEnv) > 0 {
		envDiff := make([]float64, len(refEnv))
		for i := range refEnv {
			envDiff[i] = linToDB(refEnv[i]) - linToDB(candEnv[i])
		}
		m.EnvelopeRMSEDB = rms1(envDiff)
	}

	m.SpectralRMSEDB = spectralRMSEDB(ref, cand)

	// Normalize sub-metrics and combine.
	m.TimeNorm = clamp01(m.TimeRMSE / 0.25)
	m.EnvelopeNorm = clamp01(m.EnvelopeRMSEDB / 30.0)
	m.SpectralNorm = clamp01(m.SpectralRMSEDB / 30.0)
	m.Score = clamp01(WeightTime*m.TimeNorm + WeightEnvelope*m.EnvelopeNorm + WeightSpectral*m.SpectralNorm)
	m.Similarity = clamp01(math.Exp(-4.0 * m.Score))

	m.Dominant = "time"
	best := WeightTime * m.TimeNorm
	if c := WeightEnvelope * m.EnvelopeNorm; c > best {
		m.Dominant, best = "envelope", c
	}
	if c := WeightSpectral * m.SpectralNorm; c > best {
		m.Dominant = "spectral"
	}
	return m
}

func rmse(a []float64, b []float64) float64 {
	n := min(len(a), len(b))
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum / float64(n))
}

// snrDB is the reference level over the error level, capped for exact copies.
func snrDB(ref []float64, errRMS float64) float64 {
	sig := rms1(ref)
	if errRMS <= 1e-12 {
		return snrCeilingDB
	}
	if sig <= 1e-12 {
		return -snrCeilingDB
	}
	return math.Min(20*math.Log10(sig/errRMS), snrCeilingDB)
}

func rms1(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	var sum float64
	for _, v := range x {
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(x)))
}

func rmsEnvelope(x []float64, frame int, hop int) []float64 {
	if frame <= 0 || hop <= 0 || len(x) < frame {
		return nil
	}
	n := 1 + (len(x)-frame)/hop
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		start := i * hop
		out[i] = rms1(x[start : start+frame])
	}
	return out
}

// spectralRMSEDB compares the STFT-averaged magnitude spectra of a and b.
// Signals shorter than one frame use a single zero-padded frame.
func spectralRMSEDB(a []float64, b []float64) float64 {
	n := min(len(a), len(b))
	if n < minCompared {
		return 0
	}
	plan, err := algofft.NewPlanReal64(spectralSize)
	if err != nil {
		return spectralRMSEDBNaive(a[:min(n, spectralSize)], b[:min(n, spectralSize)])
	}
	magA := averageSpectrum(a[:n], func(dst []complex128, src []float64) { plan.Forward(dst, src) })
	magB := averageSpectrum(b[:n], func(dst []complex128, src []float64) { plan.Forward(dst, src) })
	return dbDistance(magA, magB)
}

func averageSpectrum(x []float64, forward func([]complex128, []float64)) []float64 {
	win := hann(spectralSize)
	buf := make([]float64, spectralSize)
	spec := make([]complex128, spectralSize/2+1)
	mag := make([]float64, len(spec))

	frames := 0
	for pos := 0; frames == 0 || pos+spectralSize <= len(x); pos += spectralHop {
		clear(buf)
		end := min(pos+spectralSize, len(x))
		for i := pos; i < end; i++ {
			buf[i-pos] = x[i] * win[i-pos]
		}
		forward(spec, buf)
		for k, z := range spec {
			mag[k] += cmplx.Abs(z)
		}
		frames++
	}
	for k := range mag {
		mag[k] /= float64(frames)
	}
	return mag
}

// spectralRMSEDBNaive evaluates the same distance with a direct DFT over a
// single frame.
func spectralRMSEDBNaive(a []float64, b []float64) float64 {
	n := min(len(a), len(b))
	win := hann(n)
	aw := make([]float64, n)
	bw := make([]float64, n)
	for i := 0; i < n; i++ {
		aw[i] = a[i] * win[i]
		bw[i] = b[i] * win[i]
	}
	bins := n/2 + 1
	ma := make([]float64, bins)
	mb := make([]float64, bins)
	for k := 0; k < bins; k++ {
		ma[k] = dftBinMag(aw, k)
		mb[k] = dftBinMag(bw, k)
	}
	return dbDistance(ma, mb)
}

// dbDistance is the RMS dB difference over bins 1..N-2 (DC and Nyquist
// excluded).
func dbDistance(ma, mb []float64) float64 {
	bins := len(ma) - 1
	if bins < 2 {
		return 0
	}
	var sum float64
	for k := 1; k < bins; k++ {
		d := linToDB(ma[k]) - linToDB(mb[k])
		sum += d * d
	}
	return math.Sqrt(sum / float64(bins-1))
}

func dftBinMag(x []float64, bin int) float64 {
	n := len(x)
	var re, im float64
	for i := 0; i < n; i++ {
		phi := -2.0 * math.Pi * float64(bin*i) / float64(n)
		re += x[i] * math.Cos(phi)
		im += x[i] * math.Sin(phi)
	}
	return math.Hypot(re, im)
}

func hann(n int) []float64 {
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

func linToDB(x float64) float64 {
	if x < 1e-12 {
		x = 1e-12
	}
	return 20.0 * math.Log10(x)
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
