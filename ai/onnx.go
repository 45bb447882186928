package ai

import (
	"fmt"
	"os"
	"runtime"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

var (
	onnxInitMu   sync.Mutex
	onnxInitDone bool
	onnxInitErr  error
)

// initONNXRuntime loads the shared onnxruntime library exactly once per
// process. It honors ONNXRUNTIME_SHARED_LIBRARY_PATH and otherwise searches
// a handful of conventional locations, mirroring the teacher's own
// initONNXRuntime (formerly in ai/gigaam.go).
func initONNXRuntime() error {
	onnxInitMu.Lock()
	defer onnxInitMu.Unlock()

	if onnxInitDone {
		return onnxInitErr
	}
	onnxInitDone = true

	libPath := os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH")
	if libPath == "" {
		for _, p := range []string{
			"./libonnxruntime.so",
			"./libonnxruntime.dylib",
			"../Resources/libonnxruntime.dylib",
			"./onnxruntime.dll",
		} {
			if _, err := os.Stat(p); err == nil {
				libPath = p
				break
			}
		}
	}
	if libPath != "" {
		ort.SetSharedLibraryPath(libPath)
	}

	if err := ort.InitializeEnvironment(); err != nil {
		onnxInitErr = fmt.Errorf("initialize onnxruntime environment: %w", err)
		return onnxInitErr
	}
	return nil
}

// detectBestProvider picks a default ONNX execution provider for the current
// platform: CoreML on Apple Silicon, plain CPU everywhere else. Callers may
// always override it explicitly.
func detectBestProvider() string {
	if runtime.GOOS == "darwin" && runtime.GOARCH == "arm64" {
		return "coreml"
	}
	return "cpu"
}

// coremlFlagUseNone requests every available compute unit (CPU+GPU+ANE).
const coremlFlagUseNone uint32 = 0x000

// applyExecutionOptions configures options per opts: intra-op thread count
// always, and the CoreML execution provider when opts resolves to it. CoreML
// unavailability is not fatal -- the session falls back to CPU.
func applyExecutionOptions(options *ort.SessionOptions, opts Options, log LogFunc) error {
	if opts.NumThreads > 0 {
		if err := options.SetIntraOpNumThreads(opts.NumThreads); err != nil {
			return err
		}
	}
	if opts.resolvedProvider() == "coreml" {
		if err := options.AppendExecutionProviderCoreML(coremlFlagUseNone); err != nil {
			log(fmt.Sprintf("CoreML not available, using CPU: %v", err))
		} else {
			log("CoreML execution provider enabled")
		}
	}
	return nil
}
