// Package rigctl resolves a live transceiver frequency from a CAT-controlled
// rig, so the freqx stage's shift can track where the radio is actually
// tuned instead of being retyped as a literal by hand. Resolved once at
// pipeline construction time; never called from the realtime audio path.
package rigctl

import (
	"fmt"

	hl "github.com/xylo04/goHamlib"
)

// Rig is a CAT-controlled transceiver reachable via hamlib.
type Rig struct {
	handle *hl.Rig
}

// Open starts a hamlib session for the given model number (hamlib's rig
// catalog ID, e.g. 1035 for a Yaesu FT-991) over port (a device path such
// as /dev/ttyUSB0) at the given baud rate.
func Open(model int, port string, baud int) (*Rig, error) {
	r := hl.RigOpen(model)
	if r == nil {
		return nil, fmt.Errorf("rigctl: unsupported hamlib model %d", model)
	}

	r.SetConf("rig_pathname", port)
	if baud > 0 {
		r.SetConf("serial_speed", fmt.Sprintf("%d", baud))
	}

	if err := r.Open(); err != nil {
		return nil, fmt.Errorf("rigctl: opening %s: %w", port, err)
	}

	return &Rig{handle: r}, nil
}

// CenterFrequency reports the rig's currently tuned VFO frequency in Hz.
func (r *Rig) CenterFrequency() (float64, error) {
	freq, err := r.handle.GetFreq(hl.VFOCurr)
	if err != nil {
		return 0, fmt.Errorf("rigctl: reading VFO frequency: %w", err)
	}
	return freq, nil
}

// Close releases the hamlib session.
func (r *Rig) Close() error {
	return r.handle.Close()
}

// FreqxShift computes the freqx stage argument that recentres a signal at
// the absolute frequency passbandCenterHz to 0 Hz, given the rig's current
// VFO frequency (the signal sits at passbandCenterHz - VFO in baseband, so
// the shift is the negation of that offset). This is the only arithmetic
// rigctl does; everything else is a straight read-through to hamlib.
func (r *Rig) FreqxShift(passbandCenterHz float64) (float64, error) {
	center, err := r.CenterFrequency()
	if err != nil {
		return 0, err
	}
	return center - passbandCenterHz, nil
}
