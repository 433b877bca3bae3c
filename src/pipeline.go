package whistle

/*------------------------------------------------------------------
 *
 * Purpose:	The linear pipeline container: parses a stage-chain
 *		description, constructs each stage, owns the per-stage
 *		input buffers (each sized block+prelude), and drives one
 *		full pass per realtime callback.
 *
 *----------------------------------------------------------------*/

import (
	"fmt"
	"strings"
)

// Pipeline owns an ordered chain of stages and the buffers that carry
// samples and history between them.
type Pipeline struct {
	desc       string
	sampleRate float32
	blockSize  int

	stages  []Stage
	buffers [][]float32 // buffers[i] backs stages[i]'s input, len 2*(blockSize+stages[i].Prelude())
}

// stageDesc is one "name,arg1,arg2" segment of a pipeline description.
type stageDesc struct {
	name string
	args []string
}

// parseDescription splits "stageA,arg1,arg2:stageB,arg1:..." into its
// per-stage descriptors, per spec §4.4's grammar. Names and args are opaque
// tokens; no escaping, commas/colons can't occur inside an argument.
func parseDescription(desc string) ([]stageDesc, error) {
	segments := strings.Split(desc, ":")
	if len(segments) == 0 || (len(segments) == 1 && segments[0] == "") {
		return nil, fmt.Errorf("empty pipeline description")
	}

	descs := make([]stageDesc, 0, len(segments))
	for _, seg := range segments {
		parts := strings.Split(seg, ",")
		name := parts[0]
		if name == "" {
			return nil, fmt.Errorf("empty stage name in descriptor %q", seg)
		}
		descs = append(descs, stageDesc{name: name, args: parts[1:]})
	}

	return descs, nil
}

// NewPipeline parses desc, constructs every stage in order, and allocates
// each stage's input buffer. If any stage fails to parse or construct, every
// already-constructed stage is destroyed (reverse order) and the error is
// returned.
func NewPipeline(sampleRate float32, blockSize int, desc string) (*Pipeline, error) {
	descs, err := parseDescription(desc)
	if err != nil {
		return nil, err
	}

	stages := make([]Stage, 0, len(descs))

	destroyAll := func() {
		for i := len(stages) - 1; i >= 0; i-- {
			stages[i].Destroy()
		}
	}

	for _, d := range descs {
		ctor, err := Lookup(d.name)
		if err != nil {
			destroyAll()
			return nil, err
		}

		stage, err := ctor(sampleRate, d.args)
		if err != nil {
			destroyAll()
			return nil, fmt.Errorf("constructing stage %q: %w", d.name, err)
		}

		if stage.Prelude() > uint32(blockSize) {
			stage.Destroy()
			destroyAll()
			return nil, fmt.Errorf("stage %q prelude %d exceeds block size %d", d.name, stage.Prelude(), blockSize)
		}

		stages = append(stages, stage)
	}

	buffers := make([][]float32, len(stages))
	for i, s := range stages {
		buffers[i] = make([]float32, 2*(blockSize+int(s.Prelude())))
	}

	return &Pipeline{
		desc:       desc,
		sampleRate: sampleRate,
		blockSize:  blockSize,
		stages:     stages,
		buffers:    buffers,
	}, nil
}

// Description returns the verbatim descriptor string the pipeline was built
// from, for diagnostics and rebuilds.
func (p *Pipeline) Description() string { return p.desc }

// SampleRate returns the sample rate the pipeline was built for.
func (p *Pipeline) SampleRate() float32 { return p.sampleRate }

// BlockSize returns the configured block size.
func (p *Pipeline) BlockSize() int { return p.blockSize }

// Preludes returns each stage's prelude, in pipeline order - used by callers
// that want to report the chain's history requirements without reaching
// into stage internals.
func (p *Pipeline) Preludes() []uint32 {
	out := make([]uint32, len(p.stages))
	for i, s := range p.stages {
		out[i] = s.Prelude()
	}
	return out
}

// InputBuffer returns the writable view of stage 0's input buffer where the
// next block belongs: 2*BlockSize() floats starting right after stage 0's
// prelude region.
func (p *Pipeline) InputBuffer() []float32 {
	prelude := int(p.stages[0].Prelude())
	start := 2 * prelude
	return p.buffers[0][start : start+2*p.blockSize]
}

// Pass runs one full pass of n frames (n <= BlockSize()) through every
// stage in order, reading the block placed via InputBuffer and writing the
// final stage's output to out (2*n floats). Pass itself performs no
// allocation, no I/O and no locking; the built-in stages add none either,
// while a dl stage's Process takes its own mutex, polls its directory watch,
// and on a hotswap reloads its library from disk.
func (p *Pipeline) Pass(out []float32, n int) {
	if n > p.blockSize {
		panic(fmt.Sprintf("whistle: Pass(n=%d) exceeds configured block size %d", n, p.blockSize))
	}

	for i, stage := range p.stages {
		prelude := int(stage.Prelude())
		in := p.buffers[i]

		var dst []float32
		if i == len(p.stages)-1 {
			dst = out
		} else {
			nextPrelude := int(p.stages[i+1].Prelude())
			dst = p.buffers[i+1][2*nextPrelude : 2*nextPrelude+2*n]
		}

		stage.Process(in, dst, n)

		// Save the tail `prelude` frames of what was just presented as
		// input (the region in[0:2*(prelude+n)]) as history for the
		// next call.
		if prelude > 0 {
			tailStart := 2 * n
			copy(in[:2*prelude], in[tailStart:tailStart+2*prelude])
		}
	}
}

// Destroy releases every stage's resources, in reverse construction order.
func (p *Pipeline) Destroy() {
	for i := len(p.stages) - 1; i >= 0; i-- {
		p.stages[i].Destroy()
	}
}
