package whistle

import (
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// passthroughInner is a fake Stage used to stand in for whatever a real
// plugin's constructor would have returned, so hotswap can be exercised
// without a compiled shared library.
type passthroughInner struct {
	prelude   uint32
	destroyed atomic.Bool
	tag       string
}

func (s *passthroughInner) Prelude() uint32 { return s.prelude }

func (s *passthroughInner) Process(in, out []float32, nFrames int) {
	copy(out[:2*nFrames], in[2*int(s.prelude):2*int(s.prelude)+2*nFrames])
}

func (s *passthroughInner) Destroy() { s.destroyed.Store(true) }

func withFakeLoader(t *testing.T, fn func(libPath, symbol string, sampleRate float32, args []string) (Stage, error)) {
	t.Helper()
	old := loadDlInner
	loadDlInner = fn
	t.Cleanup(func() { loadDlInner = old })
}

func touchFile(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte("v2"), 0o644))
}

func newTestDlStage(t *testing.T, dir string, loadCount *atomic.Int32, prelude uint32) Stage {
	t.Helper()

	libPath := filepath.Join(dir, "stage.so")
	require.NoError(t, os.WriteFile(libPath, []byte("v1"), 0o644))

	withFakeLoader(t, func(gotLibPath, symbol string, sampleRate float32, args []string) (Stage, error) {
		loadCount.Add(1)
		return &passthroughInner{prelude: prelude}, nil
	})

	ctor, err := Lookup("dl")
	require.NoError(t, err)

	stage, err := ctor(8000, []string{libPath, "NewStage"})
	require.NoError(t, err)
	return stage
}

func Test_dlStage_delegates_to_inner(t *testing.T) {
	dir := t.TempDir()
	var loadCount atomic.Int32
	stage := newTestDlStage(t, dir, &loadCount, 0)
	defer stage.Destroy()

	assert.EqualValues(t, 1, loadCount.Load())
	assert.Equal(t, uint32(0), stage.Prelude())

	in := []float32{1, 2, 3, 4}
	out := make([]float32, 4)
	stage.Process(in, out, 2)
	assert.Equal(t, in, out)
}

func Test_dlStage_rejects_too_few_args(t *testing.T) {
	ctor, err := Lookup("dl")
	require.NoError(t, err)
	_, err = ctor(8000, []string{"onlyone"})
	assert.Error(t, err)
}

func Test_dlStage_hotswap_never_both_never_neither(t *testing.T) {
	dir := t.TempDir()
	var loadCount atomic.Int32
	libPath := filepath.Join(dir, "stage.so")
	require.NoError(t, os.WriteFile(libPath, []byte("v1"), 0o644))

	var generation atomic.Int32
	withFakeLoader(t, func(gotLibPath, symbol string, sampleRate float32, args []string) (Stage, error) {
		loadCount.Add(1)
		gen := generation.Add(1)
		return &passthroughInner{prelude: 0, tag: filepath.Base(gotLibPath) + string(rune('0'+gen))}, nil
	})

	ctor, err := Lookup("dl")
	require.NoError(t, err)
	stageIface, err := ctor(8000, []string{libPath, "NewStage"})
	require.NoError(t, err)
	stage := stageIface.(*dlStage)
	defer stage.Destroy()

	require.EqualValues(t, 1, loadCount.Load())
	stage.mu.Lock()
	firstInner := stage.inner.(*passthroughInner)
	stage.mu.Unlock()
	require.False(t, firstInner.destroyed.Load())

	// Drive the swap directly rather than through the filesystem watcher -
	// the watcher's delivery timing isn't this test's concern, the swap
	// invariant is.
	stage.hotswap()

	assert.EqualValues(t, 2, loadCount.Load())
	assert.True(t, firstInner.destroyed.Load(), "old inner should be destroyed once the new one is in place")

	stage.mu.Lock()
	secondInner := stage.inner.(*passthroughInner)
	stage.mu.Unlock()
	assert.False(t, secondInner.destroyed.Load())
	assert.NotSame(t, firstInner, secondInner)

	assert.EqualValues(t, 1, stage.hotswapOK.Load())
}

func Test_dlStage_hotswap_failure_bypasses_to_passthrough(t *testing.T) {
	dir := t.TempDir()
	var loadCount atomic.Int32
	stageIface := newTestDlStage(t, dir, &loadCount, 0)
	stage := stageIface.(*dlStage)
	defer stage.Destroy()

	stage.mu.Lock()
	firstInner := stage.inner.(*passthroughInner)
	stage.mu.Unlock()

	withFakeLoader(t, func(libPath, symbol string, sampleRate float32, args []string) (Stage, error) {
		return nil, errors.New("simulated load failure")
	})

	stage.hotswap()

	assert.True(t, stage.fatal.Load())
	assert.True(t, firstInner.destroyed.Load())
	assert.EqualValues(t, 1, stage.hotswapFailed.Load(), "a non-fatal load failure counts instead of logging from the realtime path")

	stage.mu.Lock()
	inner := stage.inner
	stage.mu.Unlock()
	assert.Nil(t, inner)

	// Process must fall back to passthrough rather than panic or hang.
	in := []float32{5, 6}
	out := make([]float32, 2)
	stage.Process(in, out, 1)
	assert.Equal(t, in, out)
}

func Test_dlStage_hotswap_rejects_prelude_mismatch(t *testing.T) {
	dir := t.TempDir()
	var loadCount atomic.Int32
	stageIface := newTestDlStage(t, dir, &loadCount, 2)
	stage := stageIface.(*dlStage)
	defer stage.Destroy()

	stage.mu.Lock()
	firstInner := stage.inner
	stage.mu.Unlock()

	withFakeLoader(t, func(libPath, symbol string, sampleRate float32, args []string) (Stage, error) {
		return &passthroughInner{prelude: 3}, nil
	})

	stage.hotswap()

	stage.mu.Lock()
	stillInner := stage.inner
	stage.mu.Unlock()

	assert.Same(t, firstInner, stillInner, "rejecting a mismatched prelude must leave the old inner in place")
	assert.Equal(t, uint32(2), stage.Prelude())
	assert.EqualValues(t, 1, stage.hotswapRejected.Load())
}

// A fatal hotswap failure must not call a logging function from hotswap
// itself - it only has to hand the diagnostic off, non-blockingly, to the
// dedicated goroutine that's allowed to log and exit. This test builds the
// stage directly rather than through newDlStage, so that goroutine is never
// started and can't race the test for the message.
func Test_dlStage_hotswap_fatal_signals_without_blocking(t *testing.T) {
	HotswapFatal.Store(true)
	defer HotswapFatal.Store(false)

	withFakeLoader(t, func(libPath, symbol string, sampleRate float32, args []string) (Stage, error) {
		return nil, errors.New("simulated fatal load failure")
	})

	stage := &dlStage{
		libPath:            "fake.so",
		constructorSymbol:  "NewStage",
		hotswapFatalSignal: make(chan string, 1),
	}

	done := make(chan struct{})
	go func() {
		stage.hotswap()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("hotswap did not return; a non-blocking send should never stall the realtime path")
	}

	select {
	case msg := <-stage.hotswapFatalSignal:
		assert.Contains(t, msg, "simulated fatal load failure")
	default:
		t.Fatal("expected a fatal signal to be queued")
	}
}

// pollHotswap, exercised through the real filesystem watcher, picks up a
// rewrite of the watched file and triggers exactly one swap.
func Test_dlStage_pollHotswap_reacts_to_file_rewrite(t *testing.T) {
	dir := t.TempDir()
	var loadCount atomic.Int32
	stageIface := newTestDlStage(t, dir, &loadCount, 0)
	stage := stageIface.(*dlStage)
	defer stage.Destroy()

	require.EqualValues(t, 1, loadCount.Load())

	withFakeLoader(t, func(libPath, symbol string, sampleRate float32, args []string) (Stage, error) {
		loadCount.Add(1)
		return &passthroughInner{prelude: 0}, nil
	})

	touchFile(t, filepath.Join(dir, "stage.so"))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && loadCount.Load() < 2 {
		stage.pollHotswap()
		time.Sleep(10 * time.Millisecond)
	}

	assert.EqualValues(t, 2, loadCount.Load())
}
