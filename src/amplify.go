package whistle

/*------------------------------------------------------------------
 *
 * Purpose:	Scale I and Q by a constant factor.
 *
 * Usage:	amplify,factor
 *
 *----------------------------------------------------------------*/

import (
	"fmt"
	"strconv"
)

func init() {
	Register("amplify", newAmplifyStage)
}

const amplifyUsage = "amplify,factor"

type amplifyStage struct {
	factor float32
}

func newAmplifyStage(_ float32, args []string) (Stage, error) {
	if len(args) != 1 {
		return nil, &ConstructionError{Stage: "amplify", Usage: amplifyUsage,
			Cause: fmt.Errorf("expected 1 argument, got %d", len(args))}
	}

	factor, err := strconv.ParseFloat(args[0], 32)
	if err != nil {
		return nil, &ConstructionError{Stage: "amplify", Usage: amplifyUsage, Cause: err}
	}

	return &amplifyStage{factor: float32(factor)}, nil
}

func (s *amplifyStage) Prelude() uint32 { return 0 }

func (s *amplifyStage) Process(in, out []float32, nFrames int) {
	for i := 0; i < 2*nFrames; i++ {
		out[i] = s.factor * in[i]
	}
}

func (s *amplifyStage) Destroy() {}
