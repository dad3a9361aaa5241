package backends

import "fmt"

type Shape []int64

func (s Shape) String() string {
	return fmt.Sprintf("%v", []int64(s))
}

// Size is the number of elements a tensor of this shape holds.
func (s Shape) Size() int {
	size := 1
	for _, d := range s {
		size *= int(d)
	}
	return size
}

func (s Shape) ValuesInt() []int {
	output := make([]int, len(s))
	for i, v := range s {
		output[i] = int(v)
	}
	return output
}

func NewShape(dimensions ...int64) Shape {
	return dimensions
}

// Tensor is a backend neutral dense tensor. Exactly one of Int64 or Float32 holds the data.
type Tensor struct {
	Shape   Shape
	Int64   []int64
	Float32 []float32
}

func NewInt64Tensor(shape Shape, data []int64) *Tensor {
	return &Tensor{Shape: shape, Int64: data}
}

func NewFloat32Tensor(shape Shape, data []float32) *Tensor {
	return &Tensor{Shape: shape, Float32: data}
}

func (t *Tensor) validate(name string) error {
	size := t.Shape.Size()
	switch {
	case t.Int64 != nil && len(t.Int64) != size:
		return fmt.Errorf("tensor %s: shape %s does not match %d int64 values", name, t.Shape, len(t.Int64))
	case t.Float32 != nil && len(t.Float32) != size:
		return fmt.Errorf("tensor %s: shape %s does not match %d float32 values", name, t.Shape, len(t.Float32))
	case t.Int64 == nil && t.Float32 == nil:
		return fmt.Errorf("tensor %s has no data", name)
	}
	return nil
}

type InputOutputInfo struct {
	// The name of the input or output
	Name string
	// The input or output's dimensions; -1 marks a dynamic axis.
	Dimensions Shape
}

func GetNames(info []InputOutputInfo) []string {
	names := make([]string, 0, len(info))
	for _, v := range info {
		names = append(names, v.Name)
	}
	return names
}

// SessionRunner runs one onnx graph. Inputs and outputs are keyed by graph names.
type SessionRunner interface {
	Run(inputs map[string]*Tensor) (map[string]*Tensor, error)
	Destroy() error
}
