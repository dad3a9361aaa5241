package options

import (
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/knights-analytics/hugot-serverless/util/fileutil"
)

const (
	BackendORT = "ORT"
	BackendGO  = "GO"
)

// DefaultGenerationTimeout bounds a single generation call when no timeout is configured.
const DefaultGenerationTimeout = 30 * time.Second

type Options struct {
	BackendOptions    any
	ORTOptions        *OrtOptions
	GenerationOptions *GenerationOptions
	Destroy           func() error
	Backend           string
	StrictStatusCodes bool
}

func Defaults() *Options {
	_, libraryDirDefault, libraryPathDefault := getDefaultLibraryPaths()
	return &Options{
		ORTOptions: &OrtOptions{
			LibraryDir:  &libraryDirDefault,
			LibraryPath: &libraryPathDefault,
		},
		GenerationOptions: &GenerationOptions{
			Timeout: DefaultGenerationTimeout,
		},
		Destroy: func() error {
			return nil
		},
	}
}

func getDefaultLibraryPaths() (string, string, string) {
	switch runtime.GOOS {
	case "windows":
		return `onnxruntime.dll`, `.\`, `.\onnxruntime.dll`
	case "darwin":
		return "libonnxruntime.dylib", "/usr/local/lib", "/usr/local/lib/libonnxruntime.dylib"
	default:
		return "libonnxruntime.so", "/usr/lib", "/usr/lib/libonnxruntime.so"
	}
}

type OrtOptions struct {
	LibraryPath       *string
	LibraryDir        *string
	Telemetry         *bool
	IntraOpNumThreads *int
	InterOpNumThreads *int
	CPUMemArena       *bool
	MemPattern        *bool
	CudaOptions       map[string]string
}

// GenerationOptions configure the seq2seq generation handler.
type GenerationOptions struct {
	// MaxNewTokens caps the generated sequence length. Zero means use the model's generation_config.json.
	MaxNewTokens int
	// MaxInputTokens truncates the encoded input. Zero means use the model's position limit.
	MaxInputTokens int
	// Timeout is the wall-clock budget of one generation call.
	Timeout time.Duration
}

// WithOption is the interface for all option functions.
type WithOption func(o *Options) error

// WithOnnxLibraryPath (ORT only) sets the directory holding "libonnxruntime.so", "libonnxruntime.dylib" or "onnxruntime.dll".
func WithOnnxLibraryPath(ortLibraryDir string) WithOption {
	return func(o *Options) error {
		if o.Backend != BackendORT {
			return errors.New("WithOnnxLibraryPath is only supported for ORT backend")
		}
		object, err := fileutil.FileStats(ortLibraryDir)
		if err != nil {
			return fmt.Errorf("failed to access ONNX Runtime library path %q: %w", ortLibraryDir, err)
		}
		if !object.IsDir() {
			return fmt.Errorf("%s is not a directory", ortLibraryDir)
		}
		libraryName, _, _ := getDefaultLibraryPaths()
		ortLibraryFullPath := fileutil.PathJoinSafe(ortLibraryDir, libraryName)
		exists, err := fileutil.FileExists(ortLibraryFullPath)
		if err != nil {
			return fmt.Errorf("error checking for existence of ONNX Runtime library file: %w", err)
		}
		if !exists {
			return fmt.Errorf("ONNX Runtime library %s does not exist at %q", libraryName, ortLibraryDir)
		}
		o.ORTOptions.LibraryPath = &ortLibraryFullPath
		o.ORTOptions.LibraryDir = &ortLibraryDir
		return nil
	}
}

// WithTelemetry (ORT only) enables telemetry events for the onnxruntime environment. Default is off.
func WithTelemetry() WithOption {
	return func(o *Options) error {
		if o.Backend != BackendORT {
			return errors.New("WithTelemetry is only supported for ORT backend")
		}
		enabled := true
		o.ORTOptions.Telemetry = &enabled
		return nil
	}
}

// WithIntraOpNumThreads (ORT only) sets the number of threads used to parallelize execution within
// graph nodes. If unspecified, onnxruntime uses the number of physical CPU cores.
func WithIntraOpNumThreads(numThreads int) WithOption {
	return func(o *Options) error {
		if o.Backend != BackendORT {
			return errors.New("WithIntraOpNumThreads is only supported for ORT backend")
		}
		o.ORTOptions.IntraOpNumThreads = &numThreads
		return nil
	}
}

// WithInterOpNumThreads (ORT only) sets the number of threads used to parallelize execution across
// graph nodes.
func WithInterOpNumThreads(numThreads int) WithOption {
	return func(o *Options) error {
		if o.Backend != BackendORT {
			return errors.New("WithInterOpNumThreads is only supported for ORT backend")
		}
		o.ORTOptions.InterOpNumThreads = &numThreads
		return nil
	}
}

// WithCPUMemArena (ORT only) enables or disables the CPU memory arena. Default is true.
func WithCPUMemArena(enable bool) WithOption {
	return func(o *Options) error {
		if o.Backend != BackendORT {
			return errors.New("WithCPUMemArena is only supported for ORT backend")
		}
		o.ORTOptions.CPUMemArena = &enable
		return nil
	}
}

// WithMemPattern (ORT only) enables or disables the memory pattern optimization. Default is true.
func WithMemPattern(enable bool) WithOption {
	return func(o *Options) error {
		if o.Backend != BackendORT {
			return errors.New("WithMemPattern is only supported for ORT backend")
		}
		o.ORTOptions.MemPattern = &enable
		return nil
	}
}

// WithCuda (ORT only) appends the CUDA execution provider with the given provider options.
func WithCuda(cudaOptions map[string]string) WithOption {
	return func(o *Options) error {
		if o.Backend != BackendORT {
			return errors.New("WithCuda is only supported for ORT backend")
		}
		if cudaOptions == nil {
			cudaOptions = map[string]string{}
		}
		o.ORTOptions.CudaOptions = cudaOptions
		return nil
	}
}

// WithMaxNewTokens caps the number of tokens produced per generation request.
func WithMaxNewTokens(maxNewTokens int) WithOption {
	return func(o *Options) error {
		if maxNewTokens <= 0 {
			return errors.New("maxNewTokens must be positive")
		}
		o.GenerationOptions.MaxNewTokens = maxNewTokens
		return nil
	}
}

// WithMaxInputTokens truncates encoded generation inputs to maxInputTokens.
func WithMaxInputTokens(maxInputTokens int) WithOption {
	return func(o *Options) error {
		if maxInputTokens <= 0 {
			return errors.New("maxInputTokens must be positive")
		}
		o.GenerationOptions.MaxInputTokens = maxInputTokens
		return nil
	}
}

// WithGenerationTimeout sets the wall-clock budget of one generation call.
func WithGenerationTimeout(timeout time.Duration) WithOption {
	return func(o *Options) error {
		if timeout <= 0 {
			return errors.New("generation timeout must be positive")
		}
		o.GenerationOptions.Timeout = timeout
		return nil
	}
}

// WithStrictStatusCodes makes handlers answer input errors with 400, timeouts with 504 and
// requests arriving before the model is loaded with 503. By default every failure is a 500.
func WithStrictStatusCodes() WithOption {
	return func(o *Options) error {
		o.StrictStatusCodes = true
		return nil
	}
}
