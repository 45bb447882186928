package ai

import (
	"fmt"
	"os"
	"strings"

	ort "github.com/yalue/onnxruntime_go"
)

// embeddingTensor is the single input tensor handed to an EmbeddingNetwork:
// either the raw waveform or the log-mel features, already laid out in the
// shape the model expects.
type embeddingTensor struct {
	shape []int64
	data  []float32
}

// auxInputKind tags the element type of an embedding model's optional
// second ("length") input.
type auxInputKind int

const (
	auxNone auxInputKind = iota
	auxFloat32
	auxInt64
)

// auxInput is the optional second input an embedding model may declare.
type auxInput struct {
	kind auxInputKind
	f32  []float32
	i64  []int64
}

// EmbeddingNetwork is the speaker-embedding model's contract: a single
// window in, a fixed-dimension vector out. Signature() is resolved once at
// load and never re-inspected per window. sampleCount/frameCount let an
// implementation build its own optional "length" input without leaking its
// runtime's tensor types across the interface.
type EmbeddingNetwork interface {
	Signature() EmbeddingInputDescriptor
	Run(input embeddingTensor, sampleCount, frameCount int) ([]float32, error)
}

// OnnxEmbeddingModel wires EmbeddingNetwork to an ONNX session, detecting
// the model's input shape once at load time per spec.md §4.4.
type OnnxEmbeddingModel struct {
	session     *ort.DynamicAdvancedSession
	descriptor  EmbeddingInputDescriptor
	inputNames  []string
	inputInfo   []ort.InputOutputInfo
	secondInput *ort.TensorElementDataType
}

// NewOnnxEmbeddingModel loads the embedding model at path and detects its
// input signature (waveform vs log-mel, layout, feature_dim), applying opts'
// thread count and execution provider to the session.
func NewOnnxEmbeddingModel(path string, opts Options, log LogFunc) (*OnnxEmbeddingModel, error) {
	if log == nil {
		log = noopLog
	}
	if _, err := os.Stat(path); err != nil {
		return nil, modelLoadError(err, "embedding model not found: %s", path)
	}
	if err := initONNXRuntime(); err != nil {
		return nil, modelLoadError(err, "failed to initialize onnxruntime")
	}

	inputInfo, outputInfo, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, modelLoadError(err, "failed to inspect embedding model: %s", path)
	}
	if len(inputInfo) == 0 || len(inputInfo) > 2 {
		names := make([]string, len(inputInfo))
		types := make([]string, len(inputInfo))
		for i, info := range inputInfo {
			names[i] = info.Name
			types[i] = fmt.Sprintf("%v", info.DataType)
		}
		return nil, invalidInputError(
			"unsupported embedding input count (%d): names=%s types=%s",
			len(inputInfo), strings.Join(names, ","), strings.Join(types, ","))
	}
	if len(outputInfo) == 0 {
		return nil, invalidInputError("embedding model declares no outputs")
	}

	descriptor := detectEmbeddingInput(inputInfo[0])
	if descriptor.Kind == InputLogMel {
		log(fmt.Sprintf("Embedding model expects log-mel features (%d bins)", descriptor.FeatureDim))
	} else {
		log("Embedding model expects raw waveform input")
	}

	inputNames := make([]string, len(inputInfo))
	for i, info := range inputInfo {
		inputNames[i] = info.Name
	}
	// Only the first output (the embedding vector) is read; declaring the
	// session with the rest would leave their slots in Run's outputs
	// unallocated for no benefit.
	outputNames := []string{outputInfo[0].Name}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, modelLoadError(err, "failed to create embedding session options")
	}
	defer options.Destroy()
	if err := applyExecutionOptions(options, opts, log); err != nil {
		return nil, modelLoadError(err, "failed to apply embedding session options")
	}

	session, err := ort.NewDynamicAdvancedSession(path, inputNames, outputNames, options)
	if err != nil {
		return nil, modelLoadError(err, "failed to load embedding model: %s", path)
	}

	model := &OnnxEmbeddingModel{
		session:    session,
		descriptor: descriptor,
		inputNames: inputNames,
		inputInfo:  inputInfo,
	}
	if len(inputInfo) > 1 {
		dt := inputInfo[1].DataType
		model.secondInput = &dt
	}
	return model, nil
}

// Close releases the underlying ONNX session.
func (m *OnnxEmbeddingModel) Close() {
	if m.session != nil {
		m.session.Destroy()
		m.session = nil
	}
}

// Signature implements EmbeddingNetwork.
func (m *OnnxEmbeddingModel) Signature() EmbeddingInputDescriptor {
	return m.descriptor
}

// Run implements EmbeddingNetwork.
func (m *OnnxEmbeddingModel) Run(input embeddingTensor, sampleCount, frameCount int) ([]float32, error) {
	primary, err := ort.NewTensor(ort.NewShape(input.shape...), input.data)
	if err != nil {
		return nil, inferenceError(err, "failed to create embedding input tensor")
	}
	defer primary.Destroy()

	inputs := []ort.Value{primary}
	var auxTensor ort.Value
	var aux *auxInput
	if m.secondInput != nil {
		aux = buildAuxInput(*m.secondInput, m.descriptor.Kind, sampleCount, frameCount)
	}
	if aux != nil {
		switch aux.kind {
		case auxFloat32:
			t, err := ort.NewTensor(ort.NewShape(1), aux.f32)
			if err != nil {
				return nil, inferenceError(err, "failed to create embedding aux tensor")
			}
			auxTensor = t
		case auxInt64:
			t, err := ort.NewTensor(ort.NewShape(1), aux.i64)
			if err != nil {
				return nil, inferenceError(err, "failed to create embedding aux tensor")
			}
			auxTensor = t
		}
		if auxTensor != nil {
			defer auxTensor.Destroy()
			inputs = append(inputs, auxTensor)
		}
	}

	outputs := make([]ort.Value, len(m.outputsNeeded()))
	if err := m.session.Run(inputs, outputs); err != nil {
		return nil, inferenceError(err, "embedding inference failed. inputs=%s", m.inputSummary())
	}
	defer func() {
		for _, o := range outputs {
			if o != nil {
				o.Destroy()
			}
		}
	}()

	embTensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, inferenceError(nil, "embedding output tensor has unexpected type")
	}
	values := embTensor.GetData()
	if len(values) == 0 {
		return nil, invalidInputError("empty embedding output")
	}

	return append([]float32(nil), values...), nil
}

func (m *OnnxEmbeddingModel) outputsNeeded() []ort.Value {
	return []ort.Value{nil}
}

func (m *OnnxEmbeddingModel) inputSummary() string {
	parts := make([]string, len(m.inputInfo))
	for i, info := range m.inputInfo {
		parts[i] = fmt.Sprintf("%s: %v", info.Name, info.DataType)
	}
	return strings.Join(parts, " | ")
}

// detectEmbeddingInput implements spec.md §4.4's detection rule: inspect the
// first input's declared shape. 2 dims -> waveform. 3 dims -> log-mel, with
// feature_dim taken from whichever non-batch axis has extent in (0,256];
// layout FeaturesFirst if that's axis 1, else FramesFirst; fall back to
// feature_dim=80/FramesFirst if neither axis qualifies. Any other rank is
// treated as waveform (best effort).
func detectEmbeddingInput(info ort.InputOutputInfo) EmbeddingInputDescriptor {
	dims := info.Dimensions
	switch len(dims) {
	case 2:
		return EmbeddingInputDescriptor{Kind: InputWaveform}
	case 3:
		featureDim := 0
		layout := FramesFirst
		if dims[1] > 0 && dims[1] <= 256 {
			featureDim = int(dims[1])
			layout = FeaturesFirst
		} else if dims[2] > 0 && dims[2] <= 256 {
			featureDim = int(dims[2])
			layout = FramesFirst
		}
		if featureDim == 0 {
			featureDim = 80
			layout = FramesFirst
		}
		return EmbeddingInputDescriptor{Kind: InputLogMel, FeatureDim: featureDim, Layout: layout}
	default:
		return EmbeddingInputDescriptor{Kind: InputWaveform}
	}
}

// buildAuxInput implements spec.md §4.4's auxiliary "length" input rule:
// a float32 declared type gets [1.0]; an int64 declared type gets
// [frameCount] for mel models or [sampleCount] for waveform models;
// anything else defaults to [sampleCount] as int64.
func buildAuxInput(dataType ort.TensorElementDataType, kind EmbeddingInputKind, sampleCount, frameCount int) *auxInput {
	switch dataType {
	case ort.TensorElementDataTypeFloat:
		return &auxInput{kind: auxFloat32, f32: []float32{1.0}}
	case ort.TensorElementDataTypeInt64:
		n := sampleCount
		if kind == InputLogMel {
			n = frameCount
		}
		if n < 1 {
			n = 1
		}
		return &auxInput{kind: auxInt64, i64: []int64{int64(n)}}
	default:
		n := sampleCount
		if n < 1 {
			n = 1
		}
		return &auxInput{kind: auxInt64, i64: []int64{int64(n)}}
	}
}

// buildEmbeddingInput lays out one window's samples (or its mel features)
// into the tensor shape the model's detected input signature demands.
func buildEmbeddingInput(samples []float32, descriptor EmbeddingInputDescriptor, mel *melExtractor) (embeddingTensor, error) {
	switch descriptor.Kind {
	case InputWaveform:
		return embeddingTensor{
			shape: []int64{1, int64(len(samples))},
			data:  samples,
		}, nil
	case InputLogMel:
		if mel == nil {
			return embeddingTensor{}, featureError("missing mel feature extractor")
		}
		frames, err := mel.compute(samples)
		if err != nil {
			return embeddingTensor{}, err
		}
		featureDim := descriptor.FeatureDim
		numFrames := len(frames)

		flatFramesFirst := make([]float32, numFrames*featureDim)
		for t, row := range frames {
			copy(flatFramesFirst[t*featureDim:(t+1)*featureDim], row)
		}

		if descriptor.Layout == FramesFirst {
			return embeddingTensor{
				shape: []int64{1, int64(numFrames), int64(featureDim)},
				data:  flatFramesFirst,
			}, nil
		}

		reordered := make([]float32, featureDim*numFrames)
		for t := 0; t < numFrames; t++ {
			for f := 0; f < featureDim; f++ {
				reordered[f*numFrames+t] = flatFramesFirst[t*featureDim+f]
			}
		}
		return embeddingTensor{
			shape: []int64{1, int64(featureDim), int64(numFrames)},
			data:  reordered,
		}, nil
	default:
		return embeddingTensor{}, invalidInputError("unknown embedding input kind")
	}
}

// embedWindow runs one window through the embedding model, leaving it to
// the implementation to build any auxiliary "length" input it declares.
// The returned vector is the model's raw output: spec.md §4.4 defines the
// embedding as the first output tensor's values verbatim, and normalization
// happens only where the original clustering does it (centroid recompute
// and agglomerative merge), not here, since pre-normalizing would change the
// mean a non-unit-norm model's centroids are built from.
func embedWindow(net EmbeddingNetwork, samples []float32, mel *melExtractor) ([]float32, error) {
	descriptor := net.Signature()
	input, err := buildEmbeddingInput(samples, descriptor, mel)
	if err != nil {
		return nil, err
	}

	frameCount := 0
	if descriptor.Kind == InputLogMel {
		frameCount = melFramesForLength(len(samples))
	}

	return net.Run(input, len(samples), frameCount)
}
