package whistle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func Test_amplify_unity_is_identity(t *testing.T) {
	ctor, err := Lookup("amplify")
	require.NoError(t, err)
	stage, err := ctor(8000, []string{"1.0"})
	require.NoError(t, err)
	defer stage.Destroy()

	rapid.Check(t, func(t *rapid.T) {
		nFrames := rapid.IntRange(0, 32).Draw(t, "nFrames")
		in := make([]float32, 2*nFrames)
		for i := range in {
			in[i] = rapid.Float32Range(-1000, 1000).Draw(t, "sample")
		}
		out := make([]float32, 2*nFrames)
		stage.Process(in, out, nFrames)

		for i := range in {
			assert.Equal(t, in[i], out[i])
		}
	})
}

func Test_amplify_scales_every_channel(t *testing.T) {
	ctor, err := Lookup("amplify")
	require.NoError(t, err)
	stage, err := ctor(8000, []string{"-2.5"})
	require.NoError(t, err)
	defer stage.Destroy()

	in := []float32{1, 2, 3, 4}
	out := make([]float32, 4)
	stage.Process(in, out, 2)

	assert.Equal(t, []float32{-2.5, -5, -7.5, -10}, out)
}

func Test_amplify_rejects_bad_args(t *testing.T) {
	ctor, err := Lookup("amplify")
	require.NoError(t, err)

	_, err = ctor(8000, nil)
	assert.Error(t, err)

	_, err = ctor(8000, []string{"not-a-number"})
	assert.Error(t, err)
}
