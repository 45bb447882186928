package ai

import (
	"os"
	"testing"
)

// fakeVAD is a deterministic VADNetwork: it reports speech for every frame
// whose index falls in speechFrames, ignoring the actual sample content.
type fakeVAD struct {
	speechFrames map[int]bool
	calls        int
}

func (f *fakeVAD) Run(frame []float32, h, c []float32) (float32, []float32, []float32, error) {
	score := float32(0.01)
	if f.speechFrames[f.calls] {
		score = float32(0.9)
	}
	f.calls++
	return score, h, c, nil
}

func TestDetectSpeechEmptyInput(t *testing.T) {
	segments, err := detectSpeech(nil, &fakeVAD{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(segments) != 0 {
		t.Fatalf("expected no segments for empty input, got %d", len(segments))
	}
}

func TestDetectSpeechAllSilence(t *testing.T) {
	samples := make([]float32, vadFrameSamples*20)
	net := &fakeVAD{speechFrames: map[int]bool{}}
	segments, err := detectSpeech(samples, net)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(segments) != 0 {
		t.Fatalf("expected no segments for all-silence input, got %d", len(segments))
	}
}

func TestDetectSpeechSingleSegment(t *testing.T) {
	// 25 frames of speech (frames 5..29 of 40) is well above MIN_SPEECH_MS
	// given vadFrameSamples at 16kHz (~96ms/frame), so one long speech run
	// should come out of the hysteresis state machine as exactly one segment.
	totalFrames := 40
	samples := make([]float32, vadFrameSamples*totalFrames)
	speech := map[int]bool{}
	for i := 5; i < 30; i++ {
		speech[i] = true
	}
	net := &fakeVAD{speechFrames: speech}

	segments, err := detectSpeech(samples, net)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(segments) != 1 {
		t.Fatalf("expected exactly 1 segment, got %d: %+v", len(segments), segments)
	}
	frame5Start := float64(5*vadFrameSamples) / float64(sampleRate)
	if segments[0].Start <= 0 || segments[0].Start >= frame5Start {
		t.Errorf("expected pre-speech pad to push start before frame 5's boundary, got %.3f", segments[0].Start)
	}
	if segments[0].End <= segments[0].Start {
		t.Errorf("segment end (%.3f) must be after start (%.3f)", segments[0].End, segments[0].Start)
	}
}

func TestDetectSpeechDropsTooShortRuns(t *testing.T) {
	// A speech blip at frame 0 has no room for pre-speech padding, so its
	// padded span is exactly 1 frame (~96ms) -- below MIN_SPEECH_MS (200ms)
	// -- and must be dropped entirely.
	totalFrames := 10
	samples := make([]float32, vadFrameSamples*totalFrames)
	net := &fakeVAD{speechFrames: map[int]bool{0: true}}

	segments, err := detectSpeech(samples, net)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(segments) != 0 {
		t.Fatalf("expected the short blip to be dropped, got %d segments: %+v", len(segments), segments)
	}
}

func TestOnnxVADMissingModel(t *testing.T) {
	if _, err := NewOnnxVAD("/nonexistent/silero_vad.onnx", DefaultOptions()); err == nil {
		t.Fatal("expected an error for a missing model file")
	}
}

// TestOnnxVADRealModel exercises the real ONNX runtime if a model happens
// to be present on disk, mirroring how upstream tests skip without models.
func TestOnnxVADRealModel(t *testing.T) {
	modelPath := os.Getenv("DIARIZE_VAD_MODEL_PATH")
	if modelPath == "" {
		t.Skip("DIARIZE_VAD_MODEL_PATH not set, skipping real-model test")
	}
	if _, err := os.Stat(modelPath); err != nil {
		t.Skip("VAD model not found, skipping test")
	}

	vad, err := NewOnnxVAD(modelPath, DefaultOptions())
	if err != nil {
		t.Fatalf("failed to load VAD model: %v", err)
	}
	defer vad.Close()

	samples := make([]float32, sampleRate*2)
	segments, err := detectSpeech(samples, vad)
	if err != nil {
		t.Fatalf("detectSpeech failed: %v", err)
	}
	t.Logf("detected %d segments in silence", len(segments))
}
