package whistle

/*------------------------------------------------------------------
 *
 * Purpose:	Same FIR kernel as kbfir, but with literal coefficients
 *		supplied on the command line instead of a Kaiser-Bessel
 *		design.
 *
 * Usage:	customfir,c0,c1,...,cN
 *
 *----------------------------------------------------------------*/

import (
	"fmt"
	"strconv"
)

func init() {
	Register("customfir", newCustomfirStage)
}

const customfirUsage = "customfir,c0,c1,...,cN"

func newCustomfirStage(_ float32, args []string) (Stage, error) {
	if len(args) == 0 {
		return nil, &ConstructionError{Stage: "customfir", Usage: customfirUsage,
			Cause: fmt.Errorf("expected at least 1 coefficient")}
	}

	coeffs := make([]float32, len(args))
	for i, arg := range args {
		c, err := strconv.ParseFloat(arg, 32)
		if err != nil {
			return nil, &ConstructionError{Stage: "customfir", Usage: customfirUsage, Cause: err}
		}
		coeffs[i] = float32(c)
	}

	return &firStage{coeffs: coeffs}, nil
}
