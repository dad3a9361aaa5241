package options

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func apply(o *Options, opts ...WithOption) error {
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return err
		}
	}
	return nil
}

func TestDefaults(t *testing.T) {
	o := Defaults()
	assert.Equal(t, DefaultGenerationTimeout, o.GenerationOptions.Timeout)
	assert.NotNil(t, o.ORTOptions.LibraryPath)
	assert.NoError(t, o.Destroy())
	assert.False(t, o.StrictStatusCodes)
}

func TestORTOnlyOptions(t *testing.T) {
	for name, opt := range map[string]WithOption{
		"telemetry":   WithTelemetry(),
		"intraOp":     WithIntraOpNumThreads(2),
		"interOp":     WithInterOpNumThreads(2),
		"cpuMemArena": WithCPUMemArena(false),
		"memPattern":  WithMemPattern(false),
		"cuda":        WithCuda(nil),
		"libraryPath": WithOnnxLibraryPath(t.TempDir()),
	} {
		o := Defaults()
		o.Backend = BackendGO
		assert.Error(t, opt(o), name)
	}

	o := Defaults()
	o.Backend = BackendORT
	require.NoError(t, apply(o, WithTelemetry(), WithIntraOpNumThreads(2), WithInterOpNumThreads(3), WithCuda(nil)))
	assert.True(t, *o.ORTOptions.Telemetry)
	assert.Equal(t, 2, *o.ORTOptions.IntraOpNumThreads)
	assert.Equal(t, 3, *o.ORTOptions.InterOpNumThreads)
	assert.NotNil(t, o.ORTOptions.CudaOptions)
}

func TestWithOnnxLibraryPath(t *testing.T) {
	o := Defaults()
	o.Backend = BackendORT
	dir := t.TempDir()
	assert.Error(t, WithOnnxLibraryPath(dir)(o))

	libraryName, _, _ := getDefaultLibraryPaths()
	require.NoError(t, os.WriteFile(filepath.Join(dir, libraryName), nil, 0o644))
	require.NoError(t, WithOnnxLibraryPath(dir)(o))
	assert.Equal(t, filepath.Join(dir, libraryName), *o.ORTOptions.LibraryPath)
	assert.Equal(t, dir, *o.ORTOptions.LibraryDir)
}

func TestGenerationOptions(t *testing.T) {
	o := Defaults()
	require.NoError(t, apply(o, WithMaxNewTokens(16), WithMaxInputTokens(128), WithGenerationTimeout(time.Second), WithStrictStatusCodes()))
	assert.Equal(t, 16, o.GenerationOptions.MaxNewTokens)
	assert.Equal(t, 128, o.GenerationOptions.MaxInputTokens)
	assert.Equal(t, time.Second, o.GenerationOptions.Timeout)
	assert.True(t, o.StrictStatusCodes)

	assert.Error(t, WithMaxNewTokens(0)(o))
	assert.Error(t, WithMaxInputTokens(-1)(o))
	assert.Error(t, WithGenerationTimeout(0)(o))
}
