package ai

import "fmt"

// Options configures a Diarize call: which provider to run inference on,
// how many threads to give the ONNX session, and whether the caller already
// knows the speaker count.
type Options struct {
	NumThreads int
	// Provider selects an ONNX execution provider ("cpu", "coreml", "auto").
	// "auto"/"" resolves via detectBestProvider.
	Provider string
	// SpeakerCount pins clustering to a fixed K via clusterFixed. Nil selects
	// clusterAuto with the autoClusterDistance threshold.
	SpeakerCount *int
	// Log receives one line per pipeline stage. Nil is treated as a no-op.
	Log LogFunc
}

// DefaultOptions returns the pipeline's default configuration: CPU/CoreML
// auto-detected, auto-K clustering, four inference threads.
func DefaultOptions() Options {
	return Options{
		NumThreads: 4,
		Provider:   "auto",
	}
}

func (o Options) resolvedProvider() string {
	if o.Provider == "" || o.Provider == "auto" {
		return detectBestProvider()
	}
	return o.Provider
}

func (o Options) log() LogFunc {
	if o.Log == nil {
		return noopLog
	}
	return o.Log
}

// Diarize runs the full pipeline of spec.md §2 against samples (16kHz mono
// float32 PCM): voice-activity detection, windowing, speaker embedding,
// clustering, label smoothing and adjacent-segment merging. Empty input and
// input with no detected speech both return (nil, nil). The embedding model
// is loaded lazily, only once speech has actually been detected, so an
// all-silence input never requires the embedding model path to be valid.
func Diarize(samples []float32, vadPath, embeddingPath string, opts Options) ([]SpeakerSegment, error) {
	log := opts.log()
	if len(samples) == 0 {
		return nil, nil
	}

	log("Loading VAD model")
	vad, err := NewOnnxVAD(vadPath, opts)
	if err != nil {
		return nil, err
	}
	defer vad.Close()

	log("Detecting speech segments")
	speechSegments, err := detectSpeech(samples, vad)
	if err != nil {
		return nil, err
	}
	log(speechSegmentSummary(speechSegments))
	if len(speechSegments) == 0 {
		return nil, nil
	}

	log("Loading speaker embedding model")
	embedder, err := NewOnnxEmbeddingModel(embeddingPath, opts, log)
	if err != nil {
		return nil, err
	}
	defer embedder.Close()

	return diarizeFromSegments(samples, speechSegments, embedder, opts)
}

// diarizeWith runs the pipeline against an already-constructed VADNetwork,
// letting tests substitute a fake in place of NewOnnxVAD.
func diarizeWith(samples []float32, vad VADNetwork, embedder EmbeddingNetwork, opts Options) ([]SpeakerSegment, error) {
	log := opts.log()

	log("Detecting speech segments")
	speechSegments, err := detectSpeech(samples, vad)
	if err != nil {
		return nil, err
	}
	log(speechSegmentSummary(speechSegments))
	if len(speechSegments) == 0 {
		return nil, nil
	}

	return diarizeFromSegments(samples, speechSegments, embedder, opts)
}

// diarizeFromSegments runs windowing through merge once speech has already
// been detected and an EmbeddingNetwork is ready to use.
func diarizeFromSegments(samples []float32, speechSegments []TimeSegment, embedder EmbeddingNetwork, opts Options) ([]SpeakerSegment, error) {
	log := opts.log()

	log("Extracting speaker embeddings")
	windows, err := sliceWindows(samples, speechSegments)
	if err != nil {
		return nil, err
	}

	descriptor := embedder.Signature()
	var mel *melExtractor
	if descriptor.Kind == InputLogMel {
		mel = newMelExtractor(descriptor.FeatureDim)
	}

	embeddings := make([][]float32, len(windows))
	for i, w := range windows {
		vector, err := embedWindow(embedder, w.samples, mel)
		if err != nil {
			return nil, err
		}
		embeddings[i] = vector
	}
	log(embeddingWindowSummary(windows))
	log(embeddingDistanceSummary(embeddings))

	var labels []int
	if opts.SpeakerCount != nil {
		labels = clusterFixed(embeddings, *opts.SpeakerCount)
	} else {
		labels = clusterAuto(embeddings, autoClusterDistance)
	}
	log(clusterSummary(labels))

	smoothed := smoothWindowLabels(labels, smoothingRadius)

	segments := make([]SpeakerSegment, len(windows))
	for i, w := range windows {
		segments[i] = SpeakerSegment{Start: w.start, End: w.end, SpeakerID: smoothed[i]}
	}

	return mergeAdjacentSegments(segments), nil
}

func embeddingWindowSummary(windows []rawWindow) string {
	if len(windows) == 0 {
		return "Embedding windows: 0"
	}
	var total, max float64
	for _, w := range windows {
		d := w.end - w.start
		if d < 0 {
			d = 0
		}
		total += d
		if d > max {
			max = d
		}
	}
	return fmt.Sprintf("Embedding windows: count=%d mean=%.2fs max=%.2fs",
		len(windows), total/float64(len(windows)), max)
}
