package whistle

/*------------------------------------------------------------------
 *
 * Purpose:	Wrap a stage constructor exported by an external shared
 *		library, and hot-swap the loaded image in place whenever the
 *		library file on disk is replaced.
 *
 * Usage:	dl,lib_path,constructor_symbol,passthrough_args...
 *
 * Note:	Go's plugin package has no "close" - an opened .so stays
 *		mapped for the life of the process. Each (re)load therefore
 *		goes through a freshly-named private temp copy (point 1 of
 *		the construction protocol below already requires a copy per
 *		load, so this costs nothing extra) and the previous image's
 *		address space is simply abandoned rather than actively
 *		unmapped. That is the per-target adapter choice spec §9
 *		calls out explicitly ("platform-portable equivalents... must
 *		be chosen per target").
 *
 *----------------------------------------------------------------*/

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"plugin"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

const dlUsage = "dl,lib_path,constructor_symbol,passthrough_args..."

// HotswapFatal selects which of spec §7's two permitted hotswap-failure
// behaviours a dl stage uses: the baseline fatal behaviour (true) or the
// graceful bypass-to-passthrough upgrade (false, the default). Set once at
// startup, before any pipeline is constructed.
var HotswapFatal atomic.Bool

type dlStage struct {
	libPath           string
	constructorSymbol string
	innerArgs         []string
	sampleRate        float32
	prelude           uint32 // fixed at construction; see spec §4.3 / §9
	watcher           *fsnotify.Watcher
	watchedBase       string

	mu    sync.Mutex
	inner Stage

	fatal atomic.Bool // set when a hotswap fails and the stage has bypassed to passthrough

	// hotswap() runs on the realtime path (via pollHotswap), so it can't log
	// directly; outcomes are counted here instead and drained at Destroy, the
	// same way audioserver's droppedCallbacks is drained at Close.
	hotswapOK          atomic.Int64
	hotswapFailed      atomic.Int64
	hotswapRejected    atomic.Int64
	hotswapFatalSignal chan string // buffered 1; non-blocking send from hotswap
}

func init() {
	Register("dl", newDlStage)
}

func newDlStage(sampleRate float32, args []string) (Stage, error) {
	if len(args) < 2 {
		return nil, &ConstructionError{Stage: "dl", Usage: dlUsage,
			Cause: fmt.Errorf("expected at least 2 arguments, got %d", len(args))}
	}

	libPath := args[0]
	symbol := args[1]
	innerArgs := args[2:]

	inner, err := loadDlInner(libPath, symbol, sampleRate, innerArgs)
	if err != nil {
		return nil, &ConstructionError{Stage: "dl", Usage: dlUsage, Cause: err}
	}

	dir := filepath.Dir(libPath)
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		inner.Destroy()
		return nil, &ConstructionError{Stage: "dl", Usage: dlUsage,
			Cause: fmt.Errorf("creating filesystem watcher: %w", err)}
	}

	if err := watcher.Add(dir); err != nil {
		inner.Destroy()
		watcher.Close()
		return nil, &ConstructionError{Stage: "dl", Usage: dlUsage,
			Cause: fmt.Errorf("watching %s: %w", dir, err)}
	}

	s := &dlStage{
		libPath:            libPath,
		constructorSymbol:  symbol,
		innerArgs:          innerArgs,
		sampleRate:         sampleRate,
		prelude:            inner.Prelude(),
		watcher:            watcher,
		watchedBase:        filepath.Base(libPath),
		inner:              inner,
		hotswapFatalSignal: make(chan string, 1),
	}

	// The only place in this stage allowed to call a logging function (or
	// exit the process) off the realtime path: it blocks on a channel that
	// hotswap() sends to non-blockingly, so a fatal hotswap failure still
	// terminates the process with a diagnostic per spec §7, without pass
	// ever doing I/O itself.
	go func() {
		msg, ok := <-s.hotswapFatalSignal
		if !ok {
			return
		}
		dlLog.Fatal(msg)
	}()

	return s, nil
}

// loadDlInner implements spec §4.3's construction protocol steps 1-4: copy
// the library to a private temp file, load it, resolve the constructor
// symbol, and invoke it. Indirected through a package variable so tests can
// substitute a fake loader without needing a real compiled shared library.
var loadDlInner = loadDlInnerFromPlugin

func loadDlInnerFromPlugin(libPath, symbol string, sampleRate float32, args []string) (Stage, error) {
	copyPath, err := copyToTempLib(libPath)
	if err != nil {
		return nil, fmt.Errorf("copying %s: %w", libPath, err)
	}

	p, err := plugin.Open(copyPath)
	os.Remove(copyPath) // safe once opened: the mapped pages keep the inode alive on unlink
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", copyPath, err)
	}

	sym, err := p.Lookup(symbol)
	if err != nil {
		return nil, fmt.Errorf("resolving symbol %s: %w", symbol, err)
	}

	ctor, ok := sym.(Constructor)
	if !ok {
		if fn, ok := sym.(func(float32, []string) (Stage, error)); ok {
			ctor = fn
		} else {
			return nil, fmt.Errorf("symbol %s is not a stage constructor", symbol)
		}
	}

	return ctor(sampleRate, args)
}

func copyToTempLib(libPath string) (string, error) {
	src, err := os.Open(libPath)
	if err != nil {
		return "", err
	}
	defer src.Close()

	dst, err := os.CreateTemp("", "whistle-dl-*.so")
	if err != nil {
		return "", err
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		os.Remove(dst.Name())
		return "", err
	}

	return dst.Name(), nil
}

func (s *dlStage) Prelude() uint32 { return s.prelude }

// Process is the realtime path: non-blockingly drain the watch subscription,
// hot-swap on a matching rewrite/rename event, then forward the block to
// whichever inner stage is current.
func (s *dlStage) Process(in, out []float32, nFrames int) {
	s.pollHotswap()

	s.mu.Lock()
	inner := s.inner
	s.mu.Unlock()

	if inner == nil {
		// Bypass: fatal==true and no replacement was constructed. Pass
		// input through unchanged per spec §7's permitted graceful
		// bypass, rather than producing garbage.
		copy(out[:2*nFrames], in[2*int(s.prelude):2*int(s.prelude)+2*nFrames])
		return
	}

	inner.Process(in, out, nFrames)
}

func (s *dlStage) pollHotswap() {
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != s.watchedBase {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			s.hotswap()
		default:
			return
		}
	}
}

// hotswap implements spec §4.3's invariant: at any moment either the old
// inner stage is alive and being invoked, or the new one is fully
// constructed and swapped in - never both, never neither. The new stage is
// built BEFORE the old one is torn down; only once it exists is it swapped
// in and the old one destroyed. On a construction failure with HotswapFatal
// set, the old stage is left in place and the diagnostic is handed to the
// fatal goroutine; otherwise the old stage is destroyed and the dl stage
// bypasses to passthrough (inner == nil) from then on.
func (s *dlStage) hotswap() {
	newInner, err := loadDlInner(s.libPath, s.constructorSymbol, s.sampleRate, s.innerArgs)
	if err != nil {
		if HotswapFatal.Load() {
			msg := fmt.Sprintf("hotswap failed, lib=%s err=%v", s.libPath, err)
			select {
			case s.hotswapFatalSignal <- msg:
			default:
			}
			return
		}

		s.hotswapFailed.Add(1)
		s.fatal.Store(true)

		s.mu.Lock()
		old := s.inner
		s.inner = nil
		s.mu.Unlock()

		if old != nil {
			old.Destroy()
		}
		return
	}

	if newInner.Prelude() != s.prelude {
		s.hotswapRejected.Add(1)
		newInner.Destroy()
		return
	}

	s.mu.Lock()
	old := s.inner
	s.inner = newInner
	s.mu.Unlock()

	if old != nil {
		old.Destroy()
	}

	s.hotswapOK.Add(1)
}

func (s *dlStage) Destroy() {
	s.mu.Lock()
	inner := s.inner
	s.inner = nil
	s.mu.Unlock()

	if inner != nil {
		inner.Destroy()
	}
	s.watcher.Close()
	close(s.hotswapFatalSignal)

	if ok, failed, rejected := s.hotswapOK.Load(), s.hotswapFailed.Load(), s.hotswapRejected.Load(); ok+failed+rejected > 0 {
		dlLog.Info("hotswap history", "lib", s.libPath, "ok", ok, "bypassed", failed, "prelude_rejected", rejected)
	}
}
