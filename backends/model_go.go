package backends

import (
	"fmt"

	"github.com/advancedclimatesystems/gonnx"
	"gorgonia.org/tensor"
)

// GoSession runs a graph with the pure go onnx interpreter.
type GoSession struct {
	Model *gonnx.Model
}

func createGoModelBackend(model *Model) error {
	goModel, err := gonnx.NewModelFromBytes(model.OnnxBytes)
	if err != nil {
		return err
	}
	model.Session = &GoSession{Model: goModel}
	model.InputsMeta, model.OutputsMeta = loadInputOutputMetaGo(goModel)
	return nil
}

func loadInputOutputMetaGo(model *gonnx.Model) ([]InputOutputInfo, []InputOutputInfo) {
	var inputs, outputs []InputOutputInfo
	inputShapes := model.InputShapes()
	for _, name := range model.InputNames() {
		shape := inputShapes[name]
		dimensions := make(Shape, len(shape))
		for i, dim := range shape {
			dimensions[i] = dim.Size
			if dim.IsDynamic {
				dimensions[i] = -1
			}
		}
		inputs = append(inputs, InputOutputInfo{Name: name, Dimensions: dimensions})
	}
	outputShapes := model.OutputShapes()
	for _, name := range model.OutputNames() {
		shape := outputShapes[name]
		dimensions := make(Shape, len(shape))
		for i, dim := range shape {
			dimensions[i] = dim.Size
			if dim.IsDynamic {
				dimensions[i] = -1
			}
		}
		outputs = append(outputs, InputOutputInfo{Name: name, Dimensions: dimensions})
	}
	return inputs, outputs
}

func (s *GoSession) Run(inputs map[string]*Tensor) (map[string]*Tensor, error) {
	inputMap := map[string]tensor.Tensor{}
	for name, t := range inputs {
		if err := t.validate(name); err != nil {
			return nil, err
		}
		if t.Int64 != nil {
			inputMap[name] = tensor.New(tensor.WithShape(t.Shape.ValuesInt()...), tensor.WithBacking(t.Int64))
		} else {
			inputMap[name] = tensor.New(tensor.WithShape(t.Shape.ValuesInt()...), tensor.WithBacking(t.Float32))
		}
	}

	results, err := s.Model.Run(inputMap)
	if err != nil {
		return nil, err
	}

	out := make(map[string]*Tensor, len(results))
	for name, result := range results {
		dims := result.Shape()
		shape := make(Shape, len(dims))
		for i, d := range dims {
			shape[i] = int64(d)
		}
		switch data := result.Data().(type) {
		case []float32:
			out[name] = NewFloat32Tensor(shape, append([]float32(nil), data...))
		case []int64:
			out[name] = NewInt64Tensor(shape, append([]int64(nil), data...))
		case float32:
			out[name] = NewFloat32Tensor(Shape{}, []float32{data})
		default:
			return nil, fmt.Errorf("output %s has unsupported type %T", name, data)
		}
	}
	return out, nil
}

func (s *GoSession) Destroy() error {
	return nil
}
