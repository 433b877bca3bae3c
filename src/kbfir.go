package whistle

/*------------------------------------------------------------------
 *
 * Purpose:	Linear-phase band-pass FIR with coefficients designed at
 *		construction time via a Kaiser-Bessel windowed sinc.
 *
 * Usage:	kbfir,ntaps,fa,fb,att
 *
 *----------------------------------------------------------------*/

import (
	"fmt"
	"strconv"
)

func init() {
	Register("kbfir", newKbfirStage)
}

const kbfirUsage = "kbfir,ntaps,fa,fb,att"

func newKbfirStage(sampleRate float32, args []string) (Stage, error) {
	if len(args) != 4 {
		return nil, &ConstructionError{Stage: "kbfir", Usage: kbfirUsage,
			Cause: fmt.Errorf("expected 4 arguments, got %d", len(args))}
	}

	ntaps, err := strconv.Atoi(args[0])
	if err != nil {
		return nil, &ConstructionError{Stage: "kbfir", Usage: kbfirUsage, Cause: err}
	}

	fa, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return nil, &ConstructionError{Stage: "kbfir", Usage: kbfirUsage, Cause: err}
	}

	fb, err := strconv.ParseFloat(args[2], 64)
	if err != nil {
		return nil, &ConstructionError{Stage: "kbfir", Usage: kbfirUsage, Cause: err}
	}

	att, err := strconv.ParseFloat(args[3], 64)
	if err != nil {
		return nil, &ConstructionError{Stage: "kbfir", Usage: kbfirUsage, Cause: err}
	}

	coeffs, err := designKaiserBandpass(sampleRate, ntaps, fa, fb, att)
	if err != nil {
		return nil, &ConstructionError{Stage: "kbfir", Usage: kbfirUsage, Cause: err}
	}

	return &firStage{coeffs: coeffs}, nil
}

// firStage is the shared runtime representation for kbfir and customfir:
// both apply the same convolution kernel to a fixed coefficient vector.
type firStage struct {
	coeffs []float32
}

func (s *firStage) Prelude() uint32 { return uint32(len(s.coeffs) - 1) }

func (s *firStage) Process(in, out []float32, nFrames int) {
	firProcess(s.coeffs, in, out, nFrames)
}

func (s *firStage) Destroy() {}
