package rigctl

/*------------------------------------------------------------------
 *
 * Purpose:	Raw-serial fallback transport, for CAT control setups where
 *		hamlib's own serial handling isn't configured (e.g. a rig
 *		behind a USB-serial adapter hamlib doesn't auto-detect).
 *
 *----------------------------------------------------------------*/

import (
	"fmt"

	"github.com/pkg/term"
)

// SerialLink is a raw, unbuffered serial connection used to speak a rig's
// native CAT protocol directly when hamlib's transport layer is bypassed.
type SerialLink struct {
	fd *term.Term
}

// OpenSerial opens devicename (e.g. "/dev/ttyUSB0") in raw mode at baud.
func OpenSerial(devicename string, baud int) (*SerialLink, error) {
	fd, err := term.Open(devicename, term.RawMode)
	if err != nil {
		return nil, fmt.Errorf("rigctl: opening serial port %s: %w", devicename, err)
	}

	switch baud {
	case 0:
	case 1200, 2400, 4800, 9600, 19200, 38400, 57600, 115200:
		if err := fd.SetSpeed(baud); err != nil {
			fd.Close()
			return nil, fmt.Errorf("rigctl: setting speed %d on %s: %w", baud, devicename, err)
		}
	default:
		return nil, fmt.Errorf("rigctl: unsupported baud rate %d", baud)
	}

	return &SerialLink{fd: fd}, nil
}

// Write sends raw bytes of a rig's native CAT command.
func (s *SerialLink) Write(data []byte) (int, error) {
	return s.fd.Write(data)
}

// Read reads raw bytes of a rig's native CAT response into buf.
func (s *SerialLink) Read(buf []byte) (int, error) {
	return s.fd.Read(buf)
}

// Close releases the serial port.
func (s *SerialLink) Close() error {
	return s.fd.Close()
}
