package ai

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

const (
	melNFFT      = 512
	melHop       = 160
	melFrameLen  = 400
	melMaxHz     = 8000.0
)

// melExtractor computes per-window log-mel features for the speaker
// embedding model, per spec.md §4.3: FFT size 512, hop 160, frame length
// 400, Hann analysis window, feature_dim triangular mel filters spanning
// 0-8000Hz.
type melExtractor struct {
	featureDim int
	window     []float64
	filters    [][]float64
	fft        *fourier.FFT
}

func newMelExtractor(featureDim int) *melExtractor {
	return &melExtractor{
		featureDim: featureDim,
		window:     hannWindow(melFrameLen),
		filters:    melFilterbank(featureDim, melNFFT, sampleRate, melMaxHz),
		fft:        fourier.NewFFT(melNFFT),
	}
}

// melFramesForLength returns the frame count spec.md §4.3 prescribes for N
// samples: 1 if N <= 400, else 1 + floor((N-400)/160).
func melFramesForLength(numSamples int) int {
	if numSamples <= melFrameLen {
		return 1
	}
	return 1 + (numSamples-melFrameLen)/melHop
}

// compute returns a [frames][featureDim] log-mel matrix with per-utterance
// CMVN already applied.
func (m *melExtractor) compute(samples []float32) ([][]float32, error) {
	frames := melFramesForLength(len(samples))
	if frames <= 0 {
		return nil, featureError("mel produced zero frames for %d samples", len(samples))
	}

	mel := make([][]float32, frames)
	frameBuf := make([]float64, melNFFT)

	for f := 0; f < frames; f++ {
		start := f * melHop
		for i := range frameBuf {
			frameBuf[i] = 0
		}
		for i := 0; i < melFrameLen; i++ {
			idx := start + i
			if idx < len(samples) {
				frameBuf[i] = float64(samples[idx]) * m.window[i]
			}
		}

		coeffs := m.fft.Coefficients(nil, frameBuf)

		power := make([]float64, len(coeffs))
		for i, c := range coeffs {
			power[i] = real(c)*real(c) + imag(c)*imag(c)
		}

		row := make([]float32, m.featureDim)
		for band := 0; band < m.featureDim; band++ {
			var sum float64
			filter := m.filters[band]
			for bin, weight := range filter {
				if weight > 0 {
					sum += power[bin] * weight
				}
			}
			if sum < 1e-10 {
				sum = 1e-10
			}
			row[band] = float32(math.Log(sum))
		}
		mel[f] = row
	}

	applyCMVN(mel)
	return mel, nil
}

// applyCMVN subtracts the per-feature mean and divides by the per-feature
// standard deviation (floored to 1e-6), in place, across all frames.
func applyCMVN(mel [][]float32) {
	frames := len(mel)
	if frames == 0 {
		return
	}
	featureDim := len(mel[0])
	if featureDim == 0 {
		return
	}

	means := make([]float64, featureDim)
	for _, row := range mel {
		for i, v := range row {
			means[i] += float64(v)
		}
	}
	for i := range means {
		means[i] /= float64(frames)
	}

	stddevs := make([]float64, featureDim)
	for _, row := range mel {
		for i, v := range row {
			d := float64(v) - means[i]
			stddevs[i] += d * d
		}
	}
	for i := range stddevs {
		stddevs[i] = math.Sqrt(stddevs[i] / float64(frames))
		if stddevs[i] < 1e-6 {
			stddevs[i] = 1e-6
		}
	}

	for _, row := range mel {
		for i, v := range row {
			row[i] = float32((float64(v) - means[i]) / stddevs[i])
		}
	}
}

func hannWindow(size int) []float64 {
	if size <= 1 {
		w := make([]float64, size)
		for i := range w {
			w[i] = 1
		}
		return w
	}
	w := make([]float64, size)
	denom := float64(size - 1)
	for i := range w {
		w[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/denom))
	}
	return w
}

// melFilterbank builds `mels` overlapping triangular filters, edges equally
// spaced on the mel scale between 0Hz and maxHz, in the HTK convention used
// throughout spec.md §4.3: mel = 2595*log10(1+hz/700).
func melFilterbank(mels, nFFT, sampleRate int, maxHz float64) [][]float64 {
	hzToMel := func(hz float64) float64 { return 2595.0 * math.Log10(1.0+hz/700.0) }
	melToHz := func(mel float64) float64 { return 700.0 * (math.Pow(10.0, mel/2595.0) - 1.0) }

	numBins := nFFT/2 + 1

	melMin := hzToMel(0)
	melMax := hzToMel(maxHz)
	points := make([]float64, mels+2)
	for i := range points {
		points[i] = melToHz(melMin + (melMax-melMin)*float64(i)/float64(mels+1))
	}
	bins := make([]int, mels+2)
	for i, hz := range points {
		b := int(math.Floor((float64(nFFT)+1.0)*hz/float64(sampleRate)))
		if b < 0 {
			b = 0
		}
		if b > numBins-1 {
			b = numBins - 1
		}
		bins[i] = b
	}

	filters := make([][]float64, mels)
	for m := 0; m < mels; m++ {
		filters[m] = make([]float64, numBins)
		left, center, right := bins[m], bins[m+1], bins[m+2]
		if center <= left || right <= center {
			continue
		}
		for k := left; k < center; k++ {
			filters[m][k] = float64(k-left) / float64(center-left)
		}
		for k := center; k < right; k++ {
			filters[m][k] = float64(right-k) / float64(right-center)
		}
	}
	return filters
}
