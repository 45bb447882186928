package ai

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// twoSpeakerVAD reports speech on every frame except the one at index
// silenceFrame (a negative index means none). A single low-score frame is
// shorter than the redemption window, so detectSpeech still returns one
// continuous speech interval.
type twoSpeakerVAD struct {
	silenceFrame int
	calls        int
}

func (v *twoSpeakerVAD) Run(frame []float32, h, c []float32) (float32, []float32, []float32, error) {
	score := float32(0.9)
	if v.calls == v.silenceFrame {
		score = float32(0.01)
	}
	v.calls++
	return score, h, c, nil
}

// directionEmbedder returns one of two orthogonal 2-D embeddings, chosen by
// the sign of the window's sample sum, so audio whose sign flips halfway
// through simulates two distinct speakers.
type directionEmbedder struct {
	flipAt float32 // not read by Run; the direction comes from the sample sum's sign
}

func (d *directionEmbedder) Signature() EmbeddingInputDescriptor {
	return EmbeddingInputDescriptor{Kind: InputWaveform}
}

func (d *directionEmbedder) Run(input embeddingTensor, sampleCount, frameCount int) ([]float32, error) {
	var mean float32
	for _, v := range input.data {
		mean += v
	}
	if mean >= 0 {
		return []float32{1, 0}, nil
	}
	return []float32{0, 1}, nil
}

func TestDiarizeWithEmptyInput(t *testing.T) {
	segments, err := diarizeWith(nil, &twoSpeakerVAD{silenceFrame: -1}, &directionEmbedder{}, DefaultOptions())
	require.NoError(t, err)
	require.Nil(t, segments)
}

func TestDiarizeWithAllSilence(t *testing.T) {
	samples := make([]float32, vadFrameSamples*20)
	alwaysSilent := &fakeVAD{speechFrames: map[int]bool{}}
	net := &directionEmbedder{}

	segments, err := diarizeWith(samples, alwaysSilent, net, DefaultOptions())
	require.NoError(t, err)
	require.Nil(t, segments)
}

func TestDiarizeWithTwoSpeakers(t *testing.T) {
	// 6 seconds of continuous speech, mean-sign encoded so the embedder sees
	// two distinct directions in the first vs second half.
	samples := make([]float32, sampleRate*6)
	for i := range samples {
		if i < len(samples)/2 {
			samples[i] = 0.1
		} else {
			samples[i] = -0.1
		}
	}
	vad := &fakeVAD{speechFrames: map[int]bool{}}
	for i := 0; i < (len(samples)+vadFrameSamples-1)/vadFrameSamples; i++ {
		vad.speechFrames[i] = true
	}
	net := &directionEmbedder{}

	segments, err := diarizeWith(samples, vad, net, DefaultOptions())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(segments) == 0 {
		t.Fatal("expected at least one speaker segment")
	}

	speakers := map[int]bool{}
	for _, s := range segments {
		speakers[s.SpeakerID] = true
		if s.End <= s.Start {
			t.Errorf("segment has non-positive duration: %+v", s)
		}
	}
	if len(speakers) < 2 {
		t.Errorf("expected auto-K clustering to separate the two directions, got %d speaker(s): %v", len(speakers), segments)
	}
}

func TestDiarizeWithFixedSpeakerCount(t *testing.T) {
	samples := make([]float32, sampleRate*4)
	for i := range samples {
		samples[i] = 0.1
	}
	vad := &fakeVAD{speechFrames: map[int]bool{}}
	for i := 0; i < (len(samples)+vadFrameSamples-1)/vadFrameSamples; i++ {
		vad.speechFrames[i] = true
	}
	net := &directionEmbedder{}

	count := 1
	opts := DefaultOptions()
	opts.SpeakerCount = &count

	segments, err := diarizeWith(samples, vad, net, opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, s := range segments {
		if s.SpeakerID != 0 {
			t.Errorf("expected a single speaker (ID 0) when SpeakerCount=1, got %+v", s)
		}
	}
}
