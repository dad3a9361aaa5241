//go:build ORT || ALL

package backends

import (
	"errors"
	"fmt"
	"slices"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/knights-analytics/hugot-serverless/options"
)

// ORTSession runs a graph with onnxruntime.
type ORTSession struct {
	Session     *ort.DynamicAdvancedSession
	inputNames  []string
	outputNames []string
}

func createORTModelBackend(model *Model, opts *options.Options) error {
	sessionOptions, ok := opts.BackendOptions.(*ort.SessionOptions)
	if !ok {
		return errors.New("ORT session options are not initialised, create the session with NewORTSession")
	}

	inputs, outputs, err := loadInputOutputMetaORT(model.OnnxBytes)
	if err != nil {
		return err
	}
	inputNames := GetNames(inputs)
	outputNames := GetNames(outputs)

	session, err := ort.NewDynamicAdvancedSessionWithONNXData(
		model.OnnxBytes,
		inputNames,
		outputNames,
		sessionOptions,
	)
	if err != nil {
		return err
	}

	model.Session = &ORTSession{Session: session, inputNames: inputNames, outputNames: outputNames}
	model.InputsMeta = inputs
	model.OutputsMeta = outputs
	return nil
}

func loadInputOutputMetaORT(onnxBytes []byte) ([]InputOutputInfo, []InputOutputInfo, error) {
	inputs, outputs, err := ort.GetInputOutputInfoWithONNXData(onnxBytes)
	if err != nil {
		return nil, nil, err
	}
	return convertORTInputOutputs(inputs), convertORTInputOutputs(outputs), nil
}

func convertORTInputOutputs(inputOutputs []ort.InputOutputInfo) []InputOutputInfo {
	infos := make([]InputOutputInfo, 0, len(inputOutputs))
	for _, i := range inputOutputs {
		infos = append(infos, InputOutputInfo{
			Name:       i.Name,
			Dimensions: Shape(i.Dimensions),
		})
	}
	return infos
}

// Run binds inputs by name. Outputs are allocated by onnxruntime and copied out before release.
func (s *ORTSession) Run(inputs map[string]*Tensor) (out map[string]*Tensor, err error) {
	inputValues := make([]ort.Value, 0, len(s.inputNames))
	defer func() {
		for _, v := range inputValues {
			err = errors.Join(err, v.Destroy())
		}
	}()
	for _, name := range s.inputNames {
		t, ok := inputs[name]
		if !ok {
			return nil, fmt.Errorf("missing input %s", name)
		}
		if validateErr := t.validate(name); validateErr != nil {
			return nil, validateErr
		}
		value, createErr := toORTValue(t)
		if createErr != nil {
			return nil, fmt.Errorf("creating tensor %s: %w", name, createErr)
		}
		inputValues = append(inputValues, value)
	}

	outputValues := make([]ort.Value, len(s.outputNames))
	defer func() {
		for _, v := range outputValues {
			if v != nil {
				err = errors.Join(err, v.Destroy())
			}
		}
	}()
	if runErr := s.Session.Run(inputValues, outputValues); runErr != nil {
		return nil, runErr
	}

	out = make(map[string]*Tensor, len(outputValues))
	for i, v := range outputValues {
		switch typed := v.(type) {
		case *ort.Tensor[float32]:
			out[s.outputNames[i]] = NewFloat32Tensor(Shape(slices.Clone(typed.GetShape())), slices.Clone(typed.GetData()))
		case *ort.Tensor[int64]:
			out[s.outputNames[i]] = NewInt64Tensor(Shape(slices.Clone(typed.GetShape())), slices.Clone(typed.GetData()))
		default:
			return nil, fmt.Errorf("output %s has unsupported type %T", s.outputNames[i], v)
		}
	}
	return out, nil
}

func toORTValue(t *Tensor) (ort.Value, error) {
	shape := ort.NewShape(t.Shape...)
	if t.Int64 != nil {
		return ort.NewTensor(shape, t.Int64)
	}
	return ort.NewTensor(shape, t.Float32)
}

func (s *ORTSession) Destroy() error {
	return s.Session.Destroy()
}
