// Package ptt keys a push-to-talk GPIO line while the pipeline is producing
// non-silent output. The realtime audio callback never touches the GPIO
// device directly - it only flips an atomic flag, which a separate
// goroutine polls and translates into line writes, keeping `pass` free of
// anything that can block.
package ptt

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

// Keyer drives one GPIO output line as a PTT (push-to-talk) control signal.
type Keyer struct {
	line    *gpiocdev.Line
	active  atomic.Bool
	stop    chan struct{}
	done    chan struct{}
	polling time.Duration
}

// Open requests exclusive control of offset on the given gpiochip device
// (e.g. "gpiochip0"), initially de-asserted.
func Open(chip string, offset int) (*Keyer, error) {
	line, err := gpiocdev.RequestLine(chip, offset, gpiocdev.AsOutput(0))
	if err != nil {
		return nil, fmt.Errorf("ptt: requesting %s line %d: %w", chip, offset, err)
	}

	k := &Keyer{
		line:    line,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		polling: 5 * time.Millisecond,
	}

	go k.run()

	return k, nil
}

// Key requests the line be asserted (key==true) or released (key==false).
// Safe to call from the realtime callback: it only stores an atomic flag.
func (k *Keyer) Key(key bool) {
	k.active.Store(key)
}

// run is the non-realtime goroutine that turns Key's atomic flag into
// actual GPIO writes, so Process/Pass never blocks on line I/O.
func (k *Keyer) run() {
	defer close(k.done)

	last := false
	ticker := time.NewTicker(k.polling)
	defer ticker.Stop()

	for {
		select {
		case <-k.stop:
			k.line.SetValue(0)
			return
		case <-ticker.C:
			want := k.active.Load()
			if want != last {
				val := 0
				if want {
					val = 1
				}
				k.line.SetValue(val)
				last = want
			}
		}
	}
}

// Close releases the line, de-asserting it first.
func (k *Keyer) Close() error {
	close(k.stop)
	<-k.done
	return k.line.Close()
}
