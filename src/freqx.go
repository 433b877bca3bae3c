package whistle

/*------------------------------------------------------------------
 *
 * Purpose:	Complex mixer - shift a signal's center frequency by
 *		multiplying it against a rotating unit-magnitude phasor.
 *
 * Usage:	freqx,freq_hz
 *
 *----------------------------------------------------------------*/

import (
	"fmt"
	"math"
	"math/cmplx"
	"strconv"
)

func init() {
	Register("freqx", newFreqxStage)
}

type freqxStage struct {
	inc   complex128
	phase complex128
}

const freqxUsage = "freqx,freq_hz"

func newFreqxStage(sampleRate float32, args []string) (Stage, error) {
	if len(args) != 1 {
		return nil, &ConstructionError{Stage: "freqx", Usage: freqxUsage,
			Cause: fmt.Errorf("expected 1 argument, got %d", len(args))}
	}

	freqHz, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return nil, &ConstructionError{Stage: "freqx", Usage: freqxUsage, Cause: err}
	}

	theta := 2 * math.Pi * freqHz / float64(sampleRate)

	return &freqxStage{
		inc:   cmplx.Rect(1, theta),
		phase: 1,
	}, nil
}

func (s *freqxStage) Prelude() uint32 { return 0 }

func (s *freqxStage) Process(in, out []float32, nFrames int) {
	phase := s.phase

	for i := 0; i < nFrames; i++ {
		x := complex(float64(in[2*i]), float64(in[2*i+1]))
		y := x * phase
		out[2*i] = float32(real(y))
		out[2*i+1] = float32(imag(y))
		phase *= s.inc
	}

	// Renormalise to bound drift in |phase| from accumulated rounding
	// across many blocks.
	s.phase = phase / complex(cmplx.Abs(phase), 0)
}

func (s *freqxStage) Destroy() {}
