package audioserver

/*------------------------------------------------------------------
 *
 * Purpose:	Enumerate sound devices so the optional "device" config key
 *		can select a device by name (substring match) instead of
 *		only ever binding the system default. Startup-only; never
 *		called from callback.
 *
 *----------------------------------------------------------------*/

import (
	"fmt"
	"strings"

	"github.com/gordonklaus/portaudio"
	"github.com/jochenvg/go-udev"
)

// DeviceInfo is a minimal description of a detected sound device, enough to
// let a user pick one by name from the CLI.
type DeviceInfo struct {
	SysName string
	Vendor  string
	Model   string
}

// ListDevices enumerates ALSA sound devices known to udev. Returns an error
// if the udev enumeration fails; there is no fallback to the portaudio
// default here.
func ListDevices() ([]DeviceInfo, error) {
	u := udev.Udev{}
	enum := u.NewEnumerate()

	if err := enum.AddMatchSubsystem("sound"); err != nil {
		return nil, fmt.Errorf("audioserver: matching sound subsystem: %w", err)
	}

	devices, err := enum.Devices()
	if err != nil {
		return nil, fmt.Errorf("audioserver: enumerating sound devices: %w", err)
	}

	out := make([]DeviceInfo, 0, len(devices))
	for _, d := range devices {
		out = append(out, DeviceInfo{
			SysName: d.Sysname(),
			Vendor:  d.PropertyValue("ID_VENDOR"),
			Model:   d.PropertyValue("ID_MODEL"),
		})
	}

	return out, nil
}

// ResolveDevice matches name against the system's udev-enumerated sound
// devices - confirming it names a real device rather than a typo - and then
// against portaudio's own device list, which is what Open can actually bind
// a stream to. Substring match on sysname/vendor/model against the udev
// side, then on name against the portaudio side.
func ResolveDevice(name string) (*portaudio.DeviceInfo, error) {
	udevDevices, err := ListDevices()
	if err != nil {
		return nil, err
	}

	matched := false
	for _, d := range udevDevices {
		if strings.Contains(d.SysName, name) || strings.Contains(d.Vendor, name) || strings.Contains(d.Model, name) {
			matched = true
			break
		}
	}
	if !matched {
		return nil, fmt.Errorf("audioserver: no system sound device matching %q", name)
	}

	paDevices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("audioserver: listing portaudio devices: %w", err)
	}
	for _, d := range paDevices {
		if strings.Contains(d.Name, name) {
			return d, nil
		}
	}

	return nil, fmt.Errorf("audioserver: %q matches a system sound device but no portaudio device", name)
}
