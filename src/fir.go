package whistle

/*------------------------------------------------------------------
 *
 * Purpose:	Shared FIR filtering kernel and Kaiser-Bessel windowed-sinc
 *		coefficient design, used by both kbfir (designed) and
 *		customfir (literal coefficients).
 *
 *----------------------------------------------------------------*/

import "math"

// besselI0 computes the modified Bessel function of the first kind, order
// 0, by direct series summation, terminating once the next term contributes
// less than 1e-6 of the running sum.
func besselI0(x float64) float64 {
	sum := 1.0
	term := 1.0

	for m := 1; ; m++ {
		halfX := x / 2
		factor := halfX / float64(m)
		term *= factor * factor
		if term < sum*1e-6 {
			break
		}
		sum += term
	}

	return sum
}

// kaiserAlpha implements spec §4.2's piecewise Kaiser-alpha-from-attenuation
// rule.
func kaiserAlpha(attenuationDB float64) float64 {
	switch {
	case attenuationDB < 21:
		return 0
	case attenuationDB > 50:
		return 0.1102 * (attenuationDB - 8.7)
	default:
		return 0.5842*math.Pow(attenuationDB-21, 0.4) + 0.07886*(attenuationDB-21)
	}
}

// designKaiserBandpass designs a linear-phase real band-pass FIR of length
// ntaps (must be odd) with pass-band [fa, fb] Hz and stop-band attenuation
// attenuationDB dB, sampled at sampleRate Hz.
func designKaiserBandpass(sampleRate float32, ntaps int, fa, fb, attenuationDB float64) ([]float32, error) {
	if ntaps <= 0 || ntaps%2 == 0 {
		return nil, errNtapsMustBePositiveOdd
	}

	sr := float64(sampleRate)
	np := (ntaps - 1) / 2
	alpha := kaiserAlpha(attenuationDB)
	i0Alpha := besselI0(alpha)

	a := make([]float64, np+1)
	a[0] = 2 * (fb - fa) / sr
	for k := 1; k <= np; k++ {
		a[k] = (math.Sin(2*math.Pi*float64(k)*fb/sr) - math.Sin(2*math.Pi*float64(k)*fa/sr)) / (float64(k) * math.Pi)
	}

	h := make([]float32, ntaps)
	for k := 0; k <= np; k++ {
		ratio := float64(k) / float64(np)
		w := besselI0(alpha*math.Sqrt(1-ratio*ratio)) / i0Alpha
		if np == 0 {
			w = 1 // single-tap filter: window argument is 0/0, no taper needed
		}

		coeff := float32(a[k] * w)
		h[np+k] = coeff
		h[np-k] = coeff
	}

	return h, nil
}

// firProcess applies coefficient vector c (length ntaps) to the Prelude-ed
// input buffer in (length 2*(ntaps-1+nFrames)), writing nFrames frames to
// out, per spec §4.2: out[i] = sum_{x=0..ntaps-1} c[x]*in[i-x].
func firProcess(c []float32, in, out []float32, nFrames int) {
	ntaps := len(c)
	prelude := ntaps - 1

	for ch := 0; ch < 2; ch++ {
		for i := 0; i < nFrames; i++ {
			var acc float32
			// in's "frame 0" sits at frame offset prelude; frame i-x for
			// x in [0,ntaps) reaches back to frame i-ntaps+1, the oldest
			// history frame required, never past the start of in.
			base := prelude + i
			for x := 0; x < ntaps; x++ {
				acc += c[x] * in[2*(base-x)+ch]
			}
			out[2*i+ch] = acc
		}
	}
}
