package onnx

import (
	"image"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultGPUConfig(t *testing.T) {
	c := DefaultGPUConfig()
	assert.False(t, c.UseGPU)
	assert.Equal(t, "kNextPowerOfTwo", c.ArenaExtendStrategy)
	assert.Equal(t, "DEFAULT", c.CUDNNConvAlgoSearch)
	assert.True(t, c.DoCopyInDefaultStream)
	assert.NoError(t, ValidateGPUConfig(c))
}

func TestValidateGPUConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*GPUConfig)
		wantErr bool
	}{
		{"cpu ignores bad values", func(c *GPUConfig) { c.DeviceID = -1 }, false},
		{"valid gpu", func(c *GPUConfig) { c.UseGPU = true }, false},
		{"negative device", func(c *GPUConfig) { c.UseGPU, c.DeviceID = true, -1 }, true},
		{"bad arena", func(c *GPUConfig) { c.UseGPU, c.ArenaExtendStrategy = true, "grow" }, true},
		{"bad algo search", func(c *GPUConfig) { c.UseGPU, c.CUDNNConvAlgoSearch = true, "FAST" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultGPUConfig()
			tt.mutate(&c)
			err := ValidateGPUConfig(c)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCudaSettings(t *testing.T) {
	c := DefaultGPUConfig()
	c.DeviceID = 2
	c.GPUMemLimit = 1 << 30
	c.DoCopyInDefaultStream = false
	s := cudaSettings(c)
	assert.Equal(t, "2", s["device_id"])
	assert.Equal(t, "1073741824", s["gpu_mem_limit"])
	assert.Equal(t, "0", s["do_copy_in_default_stream"])
}

func TestLibraryCandidates(t *testing.T) {
	t.Setenv(EnvLibraryPath, "/custom/libonnxruntime.so")
	cands := LibraryCandidates(true)
	require.NotEmpty(t, cands)
	assert.Equal(t, "/custom/libonnxruntime.so", cands[0])

	if runtime.GOOS == "linux" {
		assert.Contains(t, cands, "/opt/onnxruntime/gpu/lib/libonnxruntime.so")
		assert.NotContains(t, LibraryCandidates(false), "/opt/onnxruntime/gpu/lib/libonnxruntime.so")
	}

	_, err := libraryName("plan9")
	assert.Error(t, err)
}

func TestGrayTensor(t *testing.T) {
	g := image.NewGray(image.Rect(0, 0, 3, 2))
	g.Pix = []uint8{255, 0, 255, 0, 255, 51}
	tensor, err := GrayTensor(g)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 1, 2, 3}, tensor.Shape)
	assert.InDeltaSlice(t, []float32{0, 1, 0, 1, 0, 0.8}, tensor.Data, 1e-6)
	assert.NoError(t, VerifyImageTensor(tensor))

	_, err = GrayTensor(image.NewGray(image.Rectangle{}))
	assert.Error(t, err)
}

func TestVerifyImageTensor(t *testing.T) {
	assert.Error(t, VerifyImageTensor(Tensor{Data: make([]float32, 3), Shape: []int64{1, 1, 2, 2}}))
	assert.Error(t, VerifyImageTensor(Tensor{Data: nil, Shape: []int64{1, 2}}))
	_, err := NewImageTensor(make([]float32, 5), 1, 2, 2)
	assert.Error(t, err)
}
