package ai

const (
	windowSeconds    = 1.5
	windowHopSeconds = 0.75
	minEmbedSeconds  = 0.8
)

// rawWindow is a time-labeled slice of raw samples, ready to be embedded.
type rawWindow struct {
	start   float64
	end     float64
	samples []float32
}

// sliceWindows implements spec.md §4.2: within each speech interval, take
// windows of windowSeconds starting every windowHopSeconds, zero-padding any
// tail window shorter than minEmbedSeconds.
func sliceWindows(samples []float32, intervals []TimeSegment) ([]rawWindow, error) {
	minSamples := int(float64(sampleRate) * minEmbedSeconds)
	windowSamples := int(float64(sampleRate) * windowSeconds)
	hopSamples := int(float64(sampleRate) * windowHopSeconds)

	var windows []rawWindow
	for _, interval := range intervals {
		start := int(interval.Start * sampleRate)
		end := int(interval.End * sampleRate)
		if start >= end || start >= len(samples) {
			return nil, invalidInputError("invalid speech segment bounds: start=%d end=%d", start, end)
		}
		if end > len(samples) {
			end = len(samples)
		}
		slice := samples[start:end]
		if len(slice) == 0 {
			continue
		}

		offset := 0
		for offset < len(slice) {
			windowEnd := offset + windowSamples
			if windowEnd > len(slice) {
				windowEnd = len(slice)
			}
			chunk := slice[offset:windowEnd]

			var buf []float32
			if len(chunk) < minSamples {
				buf = make([]float32, minSamples)
				copy(buf, chunk)
			} else {
				buf = append([]float32(nil), chunk...)
			}

			windows = append(windows, rawWindow{
				start:   float64(start+offset) / float64(sampleRate),
				end:     float64(start+windowEnd) / float64(sampleRate),
				samples: buf,
			})

			if offset+windowSamples >= len(slice) {
				break
			}
			offset += hopSamples
		}
	}

	return windows, nil
}
