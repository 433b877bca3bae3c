// Package audioserver binds the pipeline runtime to a live audio-server
// callback via portaudio, implementing the three-callback external
// interface contract: on_sample_rate_change, on_block_size_change, and
// process. Only this package is allowed to know what a real audio driver
// looks like - the core pipeline package stays free of any audio-server
// binding.
package audioserver

import (
	"fmt"
	"sync/atomic"

	"github.com/charmbracelet/log"
	"github.com/gordonklaus/portaudio"

	"github.com/n0call/whistle/internal/ptt"
	whistle "github.com/n0call/whistle/src"
)

var serverLog = log.WithPrefix("audioserver")

// silenceThreshold bounds what counts as "non-silent output" for PTT keying:
// any sample whose magnitude exceeds this trips the key on.
const silenceThreshold float32 = 1e-4

// PipelineFactory builds a fresh pipeline for a given sample rate and block
// size, called from Server's non-realtime reconfiguration path. Never
// called from the portaudio callback goroutine while a Pass is in flight.
type PipelineFactory func(sampleRate float32, blockSize int) (*whistle.Pipeline, error)

// Server owns a duplex portaudio stream carrying interleaved I/Q samples in
// both directions and drives pipeline.Pass once per callback.
type Server struct {
	clientName string
	factory    PipelineFactory

	stream *portaudio.Stream

	// pipeline is swapped atomically rather than under a mutex: the
	// realtime callback must never block waiting for a non-realtime
	// reconfiguration to finish.
	pipeline atomic.Pointer[whistle.Pipeline]

	droppedCallbacks atomic.Int64 // realtime path can't log; counted for post-hoc reporting

	keyer *ptt.Keyer // optional; set via SetKeyer before Start
}

// SetKeyer wires a PTT keyer into the realtime callback: each block, the
// callback keys the line on whenever the output is non-silent and releases
// it otherwise. Call before Start - the callback reads the field but nothing
// synchronizes writes to it once streaming begins.
func (s *Server) SetKeyer(k *ptt.Keyer) {
	s.keyer = k
}

// Open opens a duplex audio device with 2 input channels (I, Q) and 2
// output channels (I, Q), and builds the initial pipeline via factory.
// clientName is cosmetic - it is surfaced in logs only, matching the
// `-j CLIENT_NAME` external interface from spec §6. deviceName, if
// non-empty, is resolved via ResolveDevice and bound explicitly; an empty
// deviceName binds the system default.
func Open(clientName string, sampleRate float64, blockSize int, deviceName string, factory PipelineFactory) (*Server, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("audioserver: initializing portaudio: %w", err)
	}

	s := &Server{clientName: clientName, factory: factory}

	pipeline, err := factory(float32(sampleRate), blockSize)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("audioserver: building initial pipeline: %w", err)
	}
	s.pipeline.Store(pipeline)

	var stream *portaudio.Stream
	if deviceName == "" {
		stream, err = portaudio.OpenDefaultStream(2, 2, sampleRate, blockSize, s.callback)
	} else {
		var dev *portaudio.DeviceInfo
		dev, err = ResolveDevice(deviceName)
		if err == nil {
			params := portaudio.StreamParameters{
				Input: portaudio.StreamDeviceParameters{
					Device:   dev,
					Channels: 2,
					Latency:  dev.DefaultLowInputLatency,
				},
				Output: portaudio.StreamDeviceParameters{
					Device:   dev,
					Channels: 2,
					Latency:  dev.DefaultLowOutputLatency,
				},
				SampleRate:      sampleRate,
				FramesPerBuffer: blockSize,
			}
			stream, err = portaudio.OpenStream(params, s.callback)
		}
	}
	if err != nil {
		pipeline.Destroy()
		portaudio.Terminate()
		return nil, fmt.Errorf("audioserver: opening stream: %w", err)
	}
	s.stream = stream

	serverLog.Info("opened audio stream", "client", clientName, "device", deviceName, "sample_rate", sampleRate, "block_size", blockSize)

	return s, nil
}

// Start begins streaming.
func (s *Server) Start() error {
	if err := s.stream.Start(); err != nil {
		return fmt.Errorf("audioserver: starting stream: %w", err)
	}
	return nil
}

// Stop halts streaming without releasing the pipeline.
func (s *Server) Stop() error {
	if err := s.stream.Stop(); err != nil {
		return fmt.Errorf("audioserver: stopping stream: %w", err)
	}
	return nil
}

// Close tears the stream and pipeline down. Call after Stop.
func (s *Server) Close() error {
	var firstErr error
	if err := s.stream.Close(); err != nil {
		firstErr = err
	}

	if pipeline := s.pipeline.Swap(nil); pipeline != nil {
		pipeline.Destroy()
	}

	portaudio.Terminate()

	if dropped := s.droppedCallbacks.Load(); dropped > 0 {
		serverLog.Warn("callbacks served by an oversized block were truncated", "count", dropped)
	}

	return firstErr
}

// Reconfigure implements spec §5's "pipeline is torn down and rebuilt"
// reconfiguration rule: the replacement pipeline is fully built before the
// old one is destroyed, and the swap itself is a single atomic pointer
// store - the realtime callback never waits on it.
func (s *Server) Reconfigure(sampleRate float32, blockSize int) error {
	newPipeline, err := s.factory(sampleRate, blockSize)
	if err != nil {
		return fmt.Errorf("audioserver: reconfiguring: %w", err)
	}

	old := s.pipeline.Swap(newPipeline)
	if old != nil {
		old.Destroy()
	}

	serverLog.Info("reconfigured pipeline", "sample_rate", sampleRate, "block_size", blockSize)
	return nil
}

// Description, SampleRate, BlockSize, and Preludes satisfy netctl's
// StatusProvider by reading through to whatever pipeline is current.
func (s *Server) Description() string {
	if p := s.pipeline.Load(); p != nil {
		return p.Description()
	}
	return ""
}

func (s *Server) SampleRate() float32 {
	if p := s.pipeline.Load(); p != nil {
		return p.SampleRate()
	}
	return 0
}

func (s *Server) BlockSize() int {
	if p := s.pipeline.Load(); p != nil {
		return p.BlockSize()
	}
	return 0
}

func (s *Server) Preludes() []uint32 {
	if p := s.pipeline.Load(); p != nil {
		return p.Preludes()
	}
	return nil
}

// callback is the realtime path: no allocation, no I/O, no blocking calls.
// portaudio delivers in as a flat interleaved [I0,Q0,I1,Q1,...] buffer and
// expects out filled the same way.
func (s *Server) callback(in, out []float32) {
	pipeline := s.pipeline.Load()

	if pipeline == nil {
		for i := range out {
			out[i] = 0
		}
		return
	}

	nFrames := len(in) / 2
	if max := pipeline.BlockSize(); nFrames > max {
		s.droppedCallbacks.Add(1)
		nFrames = max
	}

	copy(pipeline.InputBuffer()[:2*nFrames], in[:2*nFrames])
	pipeline.Pass(out[:2*nFrames], nFrames)

	if s.keyer != nil {
		s.keyer.Key(!isSilent(out[:2*nFrames]))
	}

	for i := 2 * nFrames; i < len(out); i++ {
		out[i] = 0
	}
}

func isSilent(samples []float32) bool {
	for _, v := range samples {
		if v > silenceThreshold || v < -silenceThreshold {
			return false
		}
	}
	return true
}
