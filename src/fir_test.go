package whistle

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_designKaiserBandpass_rejects_even_or_nonpositive_ntaps(t *testing.T) {
	_, err := designKaiserBandpass(8000, 0, 100, 200, 40)
	assert.ErrorIs(t, err, errNtapsMustBePositiveOdd)

	_, err = designKaiserBandpass(8000, 10, 100, 200, 40)
	assert.ErrorIs(t, err, errNtapsMustBePositiveOdd)

	_, err = designKaiserBandpass(8000, -3, 100, 200, 40)
	assert.ErrorIs(t, err, errNtapsMustBePositiveOdd)
}

func Test_designKaiserBandpass_is_symmetric(t *testing.T) {
	h, err := designKaiserBandpass(8000, 41, 0, 1000, 60)
	require.NoError(t, err)
	require.Len(t, h, 41)

	for k := 0; k < len(h); k++ {
		assert.InDelta(t, h[k], h[len(h)-1-k], 1e-6, "coefficient %d", k)
	}
}

func Test_kbfir_and_customfir_agree_on_identical_coefficients(t *testing.T) {
	coeffs, err := designKaiserBandpass(8000, 11, 0, 500, 40)
	require.NoError(t, err)

	customArgs := make([]string, len(coeffs))
	for i, c := range coeffs {
		customArgs[i] = strconv.FormatFloat(float64(c), 'g', -1, 32)
	}

	customCtor, err := Lookup("customfir")
	require.NoError(t, err)
	custom, err := customCtor(8000, customArgs)
	require.NoError(t, err)
	defer custom.Destroy()

	direct := &firStage{coeffs: coeffs}

	require.Equal(t, direct.Prelude(), custom.Prelude())

	const nFrames = 32
	prelude := int(direct.Prelude())
	in := make([]float32, 2*(prelude+nFrames))
	for i := range in {
		in[i] = float32(i%11) - 5
	}

	wantOut := make([]float32, 2*nFrames)
	gotOut := make([]float32, 2*nFrames)

	direct.Process(in, wantOut, nFrames)
	custom.Process(in, gotOut, nFrames)

	for i := range wantOut {
		assert.InDelta(t, wantOut[i], gotOut[i], 1e-5)
	}
}

// A DC (constant) input should settle to inputValue * sum(coefficients) once
// the filter's prelude has filled with that same constant value.
func Test_kbfir_dc_steady_state(t *testing.T) {
	ctor, err := Lookup("kbfir")
	require.NoError(t, err)
	stage, err := ctor(8000, []string{"21", "0", "1000", "40"})
	require.NoError(t, err)
	defer stage.Destroy()

	prelude := int(stage.Prelude())
	const nFrames = 4
	in := make([]float32, 2*(prelude+nFrames))
	for i := 0; i < len(in); i += 2 {
		in[i] = 2.0
		in[i+1] = 0
	}

	fs := stage.(*firStage)
	var wantSum float32
	for _, c := range fs.coeffs {
		wantSum += c
	}

	out := make([]float32, 2*nFrames)
	stage.Process(in, out, nFrames)

	for n := 0; n < nFrames; n++ {
		assert.InDelta(t, 2.0*wantSum, out[2*n], 1e-4)
		assert.InDelta(t, 0, out[2*n+1], 1e-4)
	}
}

func Test_customfir_requires_at_least_one_coefficient(t *testing.T) {
	ctor, err := Lookup("customfir")
	require.NoError(t, err)
	_, err = ctor(8000, nil)
	assert.Error(t, err)
}
