package backends

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/advancedclimatesystems/gonnx/onnx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"

	"github.com/knights-analytics/hugot-serverless/options"
)

const (
	elemFloat = 1
	elemInt64 = 7
)

type graphValue struct {
	name     string
	elemType int32
	dims     []int64
}

func valueInfo(v graphValue) *onnx.ValueInfoProto {
	shape := &onnx.TensorShapeProto{}
	for _, d := range v.dims {
		shape.Dim = append(shape.Dim, &onnx.TensorShapeProto_Dimension{
			Value: &onnx.TensorShapeProto_Dimension_DimValue{DimValue: d},
		})
	}
	return &onnx.ValueInfoProto{
		Name: v.name,
		Type: &onnx.TypeProto{Value: &onnx.TypeProto_TensorType{
			TensorType: &onnx.TypeProto_Tensor{ElemType: v.elemType, Shape: shape},
		}},
	}
}

// writeGraph writes a one-node opset 13 graph applying opType to the inputs.
func writeGraph(t *testing.T, dir, filename, opType string, inputs []graphValue, output graphValue) {
	t.Helper()
	graph := &onnx.GraphProto{Name: filename, Output: []*onnx.ValueInfoProto{valueInfo(output)}}
	node := &onnx.NodeProto{OpType: opType, Name: opType, Output: []string{output.name}}
	for _, in := range inputs {
		graph.Input = append(graph.Input, valueInfo(in))
		node.Input = append(node.Input, in.name)
	}
	graph.Node = []*onnx.NodeProto{node}
	model := &onnx.ModelProto{
		IrVersion:   7,
		OpsetImport: []*onnx.OperatorSetIdProto{{Version: 13}},
		Graph:       graph,
	}
	b, err := proto.Marshal(model)
	require.NoError(t, err)
	writeFile(t, filepath.Join(dir, filename), string(b))
}

func goOptions() *options.Options {
	opts := options.Defaults()
	opts.Backend = options.BackendGO
	return opts
}

func TestGoSessionRun(t *testing.T) {
	dir := t.TempDir()
	writeGraph(t, dir, "add.onnx", "Add",
		[]graphValue{{"a", elemFloat, []int64{1, 2}}, {"b", elemFloat, []int64{1, 2}}},
		graphValue{"sum", elemFloat, []int64{1, 2}})

	model, err := LoadModel(dir, "add.onnx", goOptions())
	require.NoError(t, err)
	defer func() { assert.NoError(t, model.Destroy()) }()
	assert.Equal(t, []string{"a", "b"}, GetNames(model.InputsMeta))
	assert.Equal(t, Shape{1, 2}, model.InputsMeta[0].Dimensions)
	assert.Equal(t, []string{"sum"}, GetNames(model.OutputsMeta))

	out, err := model.Session.Run(map[string]*Tensor{
		"a": NewFloat32Tensor(NewShape(1, 2), []float32{1, 2}),
		"b": NewFloat32Tensor(NewShape(1, 2), []float32{3, 4}),
	})
	require.NoError(t, err)
	require.Contains(t, out, "sum")
	assert.Equal(t, []float32{4, 6}, out["sum"].Float32)
	assert.Equal(t, Shape{1, 2}, out["sum"].Shape)
}

func TestGoSessionUnsupportedOperator(t *testing.T) {
	dir := t.TempDir()
	writeGraph(t, dir, "pow.onnx", "Pow",
		[]graphValue{{"x", elemFloat, []int64{1, 2}}, {"y", elemFloat, []int64{1, 2}}},
		graphValue{"z", elemFloat, []int64{1, 2}})

	// gonnx parses graphs it cannot execute
	model, err := LoadModel(dir, "pow.onnx", goOptions())
	require.NoError(t, err)
	_, err = model.Session.Run(map[string]*Tensor{
		"x": NewFloat32Tensor(NewShape(1, 2), []float32{1, 2}),
		"y": NewFloat32Tensor(NewShape(1, 2), []float32{2, 2}),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Pow")
}

// T5 graphs use operators such as Pow that gonnx does not implement; loading them on the
// GO backend must fail at warm-up rather than on the first request.
func TestLoadSeq2SeqModelGoWarmUpFails(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "config.json"), `{"decoder_start_token_id": 0, "eos_token_id": 1, "pad_token_id": 0}`)
	writeGraph(t, dir, "onnx/encoder_model.onnx", "Pow",
		[]graphValue{{"input_ids", elemInt64, []int64{1, 1}}, {"attention_mask", elemInt64, []int64{1, 1}}},
		graphValue{"last_hidden_state", elemInt64, []int64{1, 1}})
	for _, name := range []string{"onnx/decoder_model.onnx", "onnx/decoder_with_past_model.onnx"} {
		writeGraph(t, dir, name, "Pow",
			[]graphValue{{"input_ids", elemInt64, []int64{1, 1}}, {"encoder_attention_mask", elemInt64, []int64{1, 1}}},
			graphValue{"logits", elemInt64, []int64{1, 1}})
	}

	_, err := LoadSeq2SeqModel(dir, goOptions())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "warm-up on GO backend")
}

func TestWarmUpRunsEveryGraph(t *testing.T) {
	m, decoderInit, decoder := scriptedModel(t, []int{1, 1}, 10)
	require.NoError(t, m.WarmUp(context.Background()))
	// EOS does not stop warm-up before decoder-with-past has run
	assert.Equal(t, 1, decoderInit.calls)
	assert.Equal(t, 1, decoder.calls)
	calls, _ := m.GenerationTimings.Stats()
	assert.Equal(t, uint64(0), calls)
}

func TestWarmUpReportsRunErrors(t *testing.T) {
	m, _, _ := scriptedModel(t, []int{1, 1}, 10)
	m.Decoder.Session = &fakeRunner{run: func(map[string]*Tensor) (map[string]*Tensor, error) {
		return nil, assert.AnError
	}}
	err := m.WarmUp(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
	assert.Contains(t, err.Error(), "decoder step 1")
}
