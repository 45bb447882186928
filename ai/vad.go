package ai

import (
	"fmt"
	"math"
	"os"

	ort "github.com/yalue/onnxruntime_go"
)

const (
	vadFrameSamples      = 1536
	vadPositiveThreshold = 0.20
	vadNegativeThreshold = 0.10
	vadRedemptionMs      = 400.0
	vadPreSpeechPadMs    = 200.0
	vadMinSpeechMs       = 200.0
)

// VADNetwork is the recurrent voice-activity network's contract: one frame
// in, one speech score and the updated hidden state out. Implementations
// must be called strictly in order for a given invocation — the hidden
// state carries the whole history of the call.
type VADNetwork interface {
	// Run scores one 1536-sample frame given the current hidden state (h, c,
	// each length 2*1*64) and returns the speech probability plus the
	// updated hidden state.
	Run(frame []float32, h, c []float32) (score float32, hNext, cNext []float32, err error)
}

// OnnxVAD wires VADNetwork to an ONNX session with the Silero VAD contract:
// inputs "input" [1,N] float32, "h"/"c" [2,1,64] float32, "sr" [1] int64;
// outputs "output", "hn", "cn".
type OnnxVAD struct {
	session *ort.DynamicAdvancedSession
	sr      int64
}

// NewOnnxVAD loads the VAD model at path and returns a network ready to run,
// applying opts' thread count and execution provider to the session.
func NewOnnxVAD(path string, opts Options) (*OnnxVAD, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, modelLoadError(err, "VAD model not found: %s", path)
	}
	if err := initONNXRuntime(); err != nil {
		return nil, modelLoadError(err, "failed to initialize onnxruntime")
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, modelLoadError(err, "failed to create VAD session options")
	}
	defer options.Destroy()
	if err := applyExecutionOptions(options, opts, opts.log()); err != nil {
		return nil, modelLoadError(err, "failed to apply VAD session options")
	}

	session, err := ort.NewDynamicAdvancedSession(
		path,
		[]string{"input", "h", "c", "sr"},
		[]string{"output", "hn", "cn"},
		options,
	)
	if err != nil {
		return nil, modelLoadError(err, "failed to load VAD model: %s", path)
	}

	return &OnnxVAD{session: session, sr: int64(sampleRate)}, nil
}

// Close releases the underlying ONNX session.
func (v *OnnxVAD) Close() {
	if v.session != nil {
		v.session.Destroy()
		v.session = nil
	}
}

// Run implements VADNetwork.
func (v *OnnxVAD) Run(frame []float32, h, c []float32) (float32, []float32, []float32, error) {
	inputTensor, err := ort.NewTensor(ort.NewShape(1, int64(len(frame))), frame)
	if err != nil {
		return 0, nil, nil, inferenceError(err, "failed to create VAD input tensor")
	}
	defer inputTensor.Destroy()

	hTensor, err := ort.NewTensor(ort.NewShape(2, 1, 64), h)
	if err != nil {
		return 0, nil, nil, inferenceError(err, "failed to create VAD h tensor")
	}
	defer hTensor.Destroy()

	cTensor, err := ort.NewTensor(ort.NewShape(2, 1, 64), c)
	if err != nil {
		return 0, nil, nil, inferenceError(err, "failed to create VAD c tensor")
	}
	defer cTensor.Destroy()

	srTensor, err := ort.NewTensor(ort.NewShape(1), []int64{v.sr})
	if err != nil {
		return 0, nil, nil, inferenceError(err, "failed to create VAD sr tensor")
	}
	defer srTensor.Destroy()

	outputs := []ort.Value{nil, nil, nil}
	if err := v.session.Run([]ort.Value{inputTensor, hTensor, cTensor, srTensor}, outputs); err != nil {
		return 0, nil, nil, inferenceError(err, "VAD inference failed. inputs=[input,h,c,sr]")
	}
	defer func() {
		for _, o := range outputs {
			if o != nil {
				o.Destroy()
			}
		}
	}()

	scoreTensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return 0, nil, nil, inferenceError(nil, "VAD output tensor has unexpected type")
	}
	scoreData := scoreTensor.GetData()
	if len(scoreData) == 0 {
		return 0, nil, nil, invalidInputError("empty VAD output")
	}

	hnTensor, ok := outputs[1].(*ort.Tensor[float32])
	if !ok {
		return 0, nil, nil, inferenceError(nil, "VAD hn tensor has unexpected type")
	}
	cnTensor, ok := outputs[2].(*ort.Tensor[float32])
	if !ok {
		return 0, nil, nil, inferenceError(nil, "VAD cn tensor has unexpected type")
	}

	hNext := append([]float32(nil), hnTensor.GetData()...)
	cNext := append([]float32(nil), cnTensor.GetData()...)

	return scoreData[0], hNext, cNext, nil
}

// detectSpeech runs the two-threshold hysteresis state machine of spec.md
// §4.1 over non-overlapping frames, carrying hidden state across calls, and
// returns strictly ordered, non-overlapping speech intervals each spanning at
// least minSpeechFrames frames (vadMinSpeechMs rounded down to whole 96ms
// frames: 2 frames, 192ms). An interval reaching the end of the buffer is
// clamped to it and can be shorter.
func detectSpeech(samples []float32, net VADNetwork) ([]TimeSegment, error) {
	if len(samples) == 0 {
		return nil, nil
	}

	msPerFrame := float64(vadFrameSamples) / (float64(sampleRate) / 1000.0)
	redemptionFrames := int(math.Floor(vadRedemptionMs / msPerFrame))
	prePadFrames := int(math.Floor(vadPreSpeechPadMs / msPerFrame))
	minSpeechFrames := int(math.Floor(vadMinSpeechMs / msPerFrame))

	totalFrames := (len(samples) + vadFrameSamples - 1) / vadFrameSamples

	h := make([]float32, 2*1*64)
	c := make([]float32, 2*1*64)

	var segments []TimeSegment
	const (
		stateSilence = iota
		stateSpeech
	)
	state := stateSilence
	startFrame := 0
	lastSpeechFrame := 0
	silenceCount := 0

	closeSegment := func(endFrame int) {
		speechFrames := endFrame - startFrame + 1
		if speechFrames >= minSpeechFrames {
			segments = append(segments, toTimeSegment(startFrame, endFrame, len(samples)))
		}
	}

	for frameIndex := 0; frameIndex < totalFrames; frameIndex++ {
		frameStart := frameIndex * vadFrameSamples
		frameEnd := frameStart + vadFrameSamples
		if frameEnd > len(samples) {
			frameEnd = len(samples)
		}
		frame := make([]float32, vadFrameSamples)
		copy(frame, samples[frameStart:frameEnd])

		score, hNext, cNext, err := net.Run(frame, h, c)
		if err != nil {
			return nil, err
		}
		h, c = hNext, cNext

		switch state {
		case stateSilence:
			if score >= vadPositiveThreshold {
				state = stateSpeech
				startFrame = frameIndex - prePadFrames
				if startFrame < 0 {
					startFrame = 0
				}
				lastSpeechFrame = frameIndex
				silenceCount = 0
			}
		case stateSpeech:
			if score >= vadPositiveThreshold {
				lastSpeechFrame = frameIndex
				silenceCount = 0
			} else {
				silenceCount++
				if score < vadNegativeThreshold && silenceCount >= redemptionFrames {
					closeSegment(lastSpeechFrame)
					state = stateSilence
					silenceCount = 0
				}
			}
		}
	}

	if state == stateSpeech {
		closeSegment(lastSpeechFrame)
	}

	return segments, nil
}

func toTimeSegment(startFrame, endFrame, totalSamples int) TimeSegment {
	startSample := startFrame * vadFrameSamples
	endSample := (endFrame + 1) * vadFrameSamples
	if endSample > totalSamples {
		endSample = totalSamples
	}
	return TimeSegment{
		Start: float64(startSample) / float64(sampleRate),
		End:   float64(endSample) / float64(sampleRate),
	}
}

func speechSegmentSummary(segments []TimeSegment) string {
	if len(segments) == 0 {
		return "Speech segments: 0"
	}
	var total, max float64
	for _, s := range segments {
		d := s.duration()
		total += d
		if d > max {
			max = d
		}
	}
	return fmt.Sprintf("Speech segments: count=%d total=%.2fs mean=%.2fs max=%.2fs",
		len(segments), total, total/float64(len(segments)), max)
}
