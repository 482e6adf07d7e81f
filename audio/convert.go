package audio

import (
	dspresample "github.com/cwbudde/algo-dsp/dsp/resample"
)

// Resample converts x from fromRate to toRate. Equal rates return x unchanged.
func Resample(x []float64, fromRate, toRate int) ([]float64, error) {
	if fromRate == toRate || len(x) == 0 {
		return x, nil
	}
	r, err := dspresample.NewForRates(
		float64(fromRate),
		float64(toRate),
		dspresample.WithQuality(dspresample.QualityBest),
	)
	if err != nil {
		return nil, err
	}
	return r.Process(x), nil
}

// ResampledLength is the frame count n frames occupy at toRate.
func ResampledLength(n, fromRate, toRate int) int {
	if fromRate == toRate {
		return n
	}
	return int(int64(n) * int64(toRate) / int64(fromRate))
}

// MapChannels maps src onto n output channels. Mono sources are duplicated,
// mono targets receive the channel average, and other mismatches wrap
// source channels round-robin. Slices are shared when no mixing is needed.
func MapChannels(src [][]float64, n int) [][]float64 {
	if len(src) == n || len(src) == 0 {
		return src
	}
	out := make([][]float64, n)
	if n == 1 {
		frames := len(src[0])
		mix := make([]float64, frames)
		for _, ch := range src {
			for i, v := range ch {
				mix[i] += v
			}
		}
		g := 1.0 / float64(len(src))
		for i := range mix {
			mix[i] *= g
		}
		out[0] = mix
		return out
	}
	for c := range out {
		out[c] = src[c%len(src)]
	}
	return out
}

// Fit returns exactly n samples of x: truncated, or zero-padded at the end.
func Fit(x []float64, n int) []float64 {
	if len(x) == n {
		return x
	}
	out := make([]float64, n)
	copy(out, x)
	return out
}
