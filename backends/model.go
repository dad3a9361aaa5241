package backends

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/knights-analytics/hugot-serverless/options"
	"github.com/knights-analytics/hugot-serverless/util/fileutil"
)

// Model is a single loaded onnx graph.
type Model struct {
	Session      SessionRunner
	Destroy      func() error
	Path         string
	OnnxFilename string
	OnnxBytes    []byte
	InputsMeta   []InputOutputInfo
	OutputsMeta  []InputOutputInfo
}

// LoadModel reads the onnx file at onnxFilename (relative to path) and creates its backend session.
func LoadModel(path string, onnxFilename string, opts *options.Options) (*Model, error) {
	model := &Model{
		Path:         path,
		OnnxFilename: onnxFilename,
	}
	onnxBytes, err := fileutil.ReadFileBytes(fileutil.PathJoinSafe(path, onnxFilename))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", onnxFilename, err)
	}
	model.OnnxBytes = onnxBytes

	if err = CreateModelBackend(model, opts); err != nil {
		return nil, fmt.Errorf("creating session for %s: %w", onnxFilename, err)
	}
	// the session holds its own copy of the graph
	model.OnnxBytes = nil
	model.Destroy = func() error {
		if model.Session == nil {
			return nil
		}
		err := model.Session.Destroy()
		model.Session = nil
		return err
	}
	return model, nil
}

func CreateModelBackend(model *Model, opts *options.Options) error {
	switch opts.Backend {
	case options.BackendORT:
		return createORTModelBackend(model, opts)
	case options.BackendGO:
		return createGoModelBackend(model)
	default:
		return fmt.Errorf("backend %s not recognized", opts.Backend)
	}
}

func (m *Model) hasInput(name string) bool {
	for _, meta := range m.InputsMeta {
		if meta.Name == name {
			return true
		}
	}
	return false
}

// getOnnxFiles lists the .onnx files under path as paths relative to it, sorted.
func getOnnxFiles(path string) ([]string, error) {
	var onnxFiles []string
	walker := func(_ context.Context, _ string, parent string, info os.FileInfo, _ io.Reader) (toContinue bool, err error) {
		if !info.IsDir() && strings.HasSuffix(info.Name(), ".onnx") {
			if parent == "" {
				onnxFiles = append(onnxFiles, info.Name())
			} else {
				onnxFiles = append(onnxFiles, parent+"/"+info.Name())
			}
		}
		return true, nil
	}
	if err := fileutil.WalkDir(context.Background(), path, walker); err != nil {
		return nil, err
	}
	sort.Strings(onnxFiles)
	return onnxFiles, nil
}
