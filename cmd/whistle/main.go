package main

/*------------------------------------------------------------------
 *
 * Purpose:   	Command-line entry point: either pump interleaved IQ floats
 *		between stdin/stdout in offline mode, or bind the pipeline to
 *		a live audio server in realtime mode.
 *
 * Usage:	whistle -r SAMPLE_RATE   [-p PIPELINE_DESC] ...  (offline)
 *		whistle -j CLIENT_NAME   [-p PIPELINE_DESC] ...  (realtime)
 *
 *---------------------------------------------------------------*/

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/creack/pty"
	"github.com/spf13/pflag"

	"github.com/n0call/whistle/internal/audioserver"
	"github.com/n0call/whistle/internal/netctl"
	"github.com/n0call/whistle/internal/ptt"
	"github.com/n0call/whistle/internal/rigctl"
	whistle "github.com/n0call/whistle/src"
)

const defaultPipelineDesc = "freqx,-10000:kbfir,41,0,1000,100:freqx,1000:amplify,100"
const defaultOfflineBlockSize = 8192

var mainLog = log.WithPrefix("whistle")

func main() {
	os.Exit(run())
}

func run() int {
	var (
		sampleRate   = pflag.Float64P("r", "r", 0, "Offline mode: sample rate in Hz, reading interleaved IQ floats from stdin and writing to stdout.")
		clientName   = pflag.StringP("j", "j", "", "Realtime mode: audio-server client name.")
		pipelineArg  = pflag.StringP("p", "p", defaultPipelineDesc, "Pipeline description string.")
		configPath   = pflag.StringP("c", "c", "", "Optional YAML config file.")
		dumpCoeffs   = pflag.Bool("dump-coefficients", false, "Print each stage's prelude to stderr at construction (coefficient values are not printed).")
		hotswapFatal = pflag.Bool("hotswap-fatal", false, "Treat a dl stage hotswap failure as fatal instead of bypassing to passthrough.")
		usePty       = pflag.Bool("pty", false, "Offline mode: attach to a pseudo-terminal pair instead of stdin/stdout.")
		version      = pflag.Bool("version", false, "Print version information and exit.")
		help         = pflag.Bool("help", false, "Display help text.")
	)

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "whistle - realtime IQ signal-processing pipeline engine\n\n")
		fmt.Fprintf(os.Stderr, "Usage: %s (-r SAMPLE_RATE | -j CLIENT_NAME) [-p PIPELINE_DESC] [OPTIONS]\n\n", os.Args[0])
		pflag.PrintDefaults()
	}

	pflag.Parse()

	if *help {
		pflag.Usage()
		return 0
	}

	if *version {
		printVersion()
		return 0
	}

	var cfg fileConfig
	if *configPath != "" {
		loaded, err := loadConfigFile(*configPath)
		if err != nil {
			mainLog.Error("loading config", "err", err)
			return 1
		}
		cfg = *loaded
	}

	desc := *pipelineArg
	if desc == defaultPipelineDesc && cfg.Pipeline != "" {
		desc = cfg.Pipeline
	}

	whistle.HotswapFatal.Store(*hotswapFatal)

	if *dumpCoeffs {
		dumpCoefficients(desc, float32(valueOr(*sampleRate, 8000)))
	}

	switch {
	case *sampleRate > 0:
		return runOffline(float32(*sampleRate), desc, *usePty)
	case *clientName != "":
		return runRealtime(*clientName, desc, cfg)
	default:
		fmt.Fprintln(os.Stderr, "one of -r SAMPLE_RATE or -j CLIENT_NAME is required")
		pflag.Usage()
		return 1
	}
}

// resolveRigFreqx substitutes shiftHz for the freq_hz argument of the first
// "freqx" stage named in desc, so that argument tracks the live rig
// frequency instead of a literal typed on the command line. Reports ok=false
// if desc names no freqx stage.
func resolveRigFreqx(desc string, shiftHz float64) (resolved string, ok bool) {
	stages := strings.Split(desc, ":")
	for i, stage := range stages {
		fields := strings.Split(stage, ",")
		if fields[0] != "freqx" {
			continue
		}
		stages[i] = "freqx," + strconv.FormatFloat(shiftHz, 'g', -1, 64)
		return strings.Join(stages, ":"), true
	}
	return desc, false
}

func valueOr(v, fallback float64) float64 {
	if v > 0 {
		return v
	}
	return fallback
}

// waitForShutdownSignal blocks until SIGINT or SIGTERM, implementing the
// audio-server boundary's on_shutdown callback as a clean process exit
// rather than an abrupt kill.
func waitForShutdownSignal() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	mainLog.Info("shutting down")
}

func dumpCoefficients(desc string, sampleRate float32) {
	p, err := whistle.NewPipeline(sampleRate, defaultOfflineBlockSize, desc)
	if err != nil {
		mainLog.Error("dump-coefficients: building pipeline", "err", err)
		return
	}
	defer p.Destroy()

	for i, prelude := range p.Preludes() {
		fmt.Fprintf(os.Stderr, "stage %d: prelude=%d\n", i, prelude)
	}
}

// runOffline implements the -r SAMPLE_RATE external interface: interleaved
// IQ float32 blocks in on stdin (or a pty), the same back out on stdout,
// fixed block size, normal termination at end-of-input.
func runOffline(sampleRate float32, desc string, usePty bool) int {
	mainLog.Info("starting offline mode", "sample_rate", sampleRate, "pipeline", desc, "block_size", defaultOfflineBlockSize)

	p, err := whistle.NewPipeline(sampleRate, defaultOfflineBlockSize, desc)
	if err != nil {
		mainLog.Error("building pipeline", "err", err)
		return 1
	}
	defer p.Destroy()

	var in io.Reader = os.Stdin
	var out io.Writer = os.Stdout

	if usePty {
		ptmx, tty, err := pty.Open()
		if err != nil {
			mainLog.Error("opening pty", "err", err)
			return 1
		}
		defer ptmx.Close()
		defer tty.Close()

		mainLog.Info("pty attached", "slave", tty.Name())
		in = ptmx
		out = ptmx
	}

	reader := bufio.NewReaderSize(in, 2*defaultOfflineBlockSize*4)
	writer := bufio.NewWriterSize(out, 2*defaultOfflineBlockSize*4)
	defer writer.Flush()

	raw := make([]byte, 2*defaultOfflineBlockSize*4)
	outBuf := make([]float32, 2*defaultOfflineBlockSize)

	for {
		nBytes, readErr := io.ReadFull(reader, raw)
		if nBytes == 0 {
			break
		}

		nFrames := (nBytes / 4) / 2
		inBuf := p.InputBuffer()
		for i := 0; i < nFrames*2; i++ {
			bits := binary.LittleEndian.Uint32(raw[4*i : 4*i+4])
			inBuf[i] = math.Float32frombits(bits)
		}

		p.Pass(outBuf[:2*nFrames], nFrames)

		for i := 0; i < nFrames*2; i++ {
			binary.LittleEndian.PutUint32(raw[4*i:4*i+4], math.Float32bits(outBuf[i]))
		}
		if _, err := writer.Write(raw[:nFrames*2*4]); err != nil {
			mainLog.Error("writing output", "err", err)
			return 1
		}

		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
		if readErr != nil {
			mainLog.Error("reading input", "err", readErr)
			return 1
		}
	}

	if err := writer.Flush(); err != nil {
		mainLog.Error("flushing output", "err", err)
		return 1
	}

	return 0
}

// runRealtime implements the -j CLIENT_NAME external interface: bind to a
// live audio server and optionally wire PTT keying, rig-frequency tracking,
// and the network control protocol.
func runRealtime(clientName, desc string, cfg fileConfig) int {
	mainLog.Info("starting realtime mode", "client", clientName, "pipeline", desc)

	sampleRate := cfg.SampleRate
	if sampleRate <= 0 {
		sampleRate = 48000
	}

	if cfg.RigModel != 0 && cfg.RigPort != "" {
		rig, err := rigctl.Open(cfg.RigModel, cfg.RigPort, cfg.RigBaud)
		if err != nil {
			mainLog.Error("opening rig control", "err", err)
			return 1
		}
		defer rig.Close()
		mainLog.Info("rig control connected", "model", cfg.RigModel, "port", cfg.RigPort)

		shiftHz, err := rig.FreqxShift(cfg.RigPassbandCenterHz)
		if err != nil {
			mainLog.Error("reading rig frequency", "err", err)
			return 1
		}

		resolved, ok := resolveRigFreqx(desc, shiftHz)
		if !ok {
			mainLog.Error("rig control configured but pipeline description has no freqx stage to resolve")
			return 1
		}
		desc = resolved
		mainLog.Info("resolved freqx stage from rig frequency", "shift_hz", shiftHz, "pipeline", desc)
	}

	var keyer *ptt.Keyer
	if cfg.PTTChip != "" {
		k, err := ptt.Open(cfg.PTTChip, cfg.PTTLine)
		if err != nil {
			mainLog.Error("opening PTT", "err", err)
			return 1
		}
		defer k.Close()
		keyer = k
	}

	factory := func(sampleRate float32, blockSize int) (*whistle.Pipeline, error) {
		return whistle.NewPipeline(sampleRate, blockSize, desc)
	}

	server, err := audioserver.Open(clientName, sampleRate, defaultOfflineBlockSize, cfg.Device, factory)
	if err != nil {
		mainLog.Error("opening audio server", "err", err)
		return 1
	}
	defer server.Close()

	if keyer != nil {
		server.SetKeyer(keyer)
	}

	if cfg.ControlAddr != "" {
		controller, err := netctl.Open(cfg.ControlAddr, server, func() error {
			return server.Reconfigure(float32(sampleRate), defaultOfflineBlockSize)
		})
		if err != nil {
			mainLog.Error("opening control protocol", "err", err)
			return 1
		}
		defer controller.Close()
	}

	if err := server.Start(); err != nil {
		mainLog.Error("starting audio server", "err", err)
		return 1
	}
	defer server.Stop()

	waitForShutdownSignal()
	return 0
}
