package whistle

/*------------------------------------------------------------------
 *
 * Purpose:	FM demodulator - approximates d/dt arg(x) without an atan2
 *		per sample, using a one-frame discrete derivative and the
 *		previous frame's magnitude as the normalising denominator.
 *
 * Usage:	fmdemod
 *
 * Note:	Spec leaves the exact denominator frame ambiguous (its own
 *		worked formula and its discussion of the original source
 *		disagree on whether the magnitude denominator is frame-
 *		aligned). This picks the frame-aligned reading - denominator
 *		and both numerator terms all drawn from frame n-1 - because
 *		it is the only one that stays continuous across a block
 *		boundary instead of occasionally mixing samples from two
 *		different frames.
 *
 *----------------------------------------------------------------*/

import "fmt"

func init() {
	Register("fmdemod", newFmdemodStage)
}

type fmdemodStage struct{}

func newFmdemodStage(_ float32, args []string) (Stage, error) {
	if len(args) != 0 {
		return nil, &ConstructionError{Stage: "fmdemod", Usage: "fmdemod",
			Cause: fmt.Errorf("expected 0 arguments, got %d", len(args))}
	}
	return fmdemodStage{}, nil
}

func (fmdemodStage) Prelude() uint32 { return 2 }

func (fmdemodStage) Process(in, out []float32, nFrames int) {
	const prelude = 2

	for n := 0; n < nFrames; n++ {
		cur := prelude + n
		prev := cur - 1

		iCur, qCur := in[2*cur], in[2*cur+1]
		iPrev, qPrev := in[2*prev], in[2*prev+1]

		dI := iCur - iPrev
		dQ := qCur - qPrev
		m := iPrev*iPrev + qPrev*qPrev

		var outI float32
		if m != 0 {
			outI = (iPrev*dQ - qPrev*dI) / m
		}

		out[2*n] = outI
		out[2*n+1] = 0
	}
}

func (fmdemodStage) Destroy() {}
