package unwinder

import (
	"sync"

	lru "github.com/hashicorp/golang-lru"

	"github.com/msft-mirror-aosp/platform.system.unwinding/addrspace"
	"github.com/msft-mirror-aosp/platform.system.unwinding/arch"
	"github.com/msft-mirror-aosp/platform.system.unwinding/elf"
	"github.com/msft-mirror-aosp/platform.system.unwinding/errkind"
	"github.com/msft-mirror-aosp/platform.system.unwinding/jitdebug"
	"github.com/msft-mirror-aosp/platform.system.unwinding/memory"
	"github.com/msft-mirror-aosp/platform.system.unwinding/symcache"
)

// defaultFunctionNameCacheSize bounds the number of modules'
// per-module symcache.Cache the unwinder keeps resident when
// Options.FunctionNameCacheSize is left at zero.
const defaultFunctionNameCacheSize = 64

// Frame is one unwound call frame.
type Frame struct {
	Num            int
	PC             uint64
	RelPC          uint64
	SP             uint64
	MapStart       uint64
	MapEnd         uint64
	MapOffset      uint64
	MapName        string
	MapFlags       addrspace.MapFlags
	FunctionName   string
	FunctionOffset uint64
	BuildID        string
	IsSignalFrame  bool
}

// Options are the per-unwind knobs the driver honors.
type Options struct {
	ResolveNames   bool
	DisplayBuildID bool
	EmbeddedSOName bool

	// FunctionNameCacheSize bounds how many modules' function-name
	// caches stay resident at once; zero uses
	// defaultFunctionNameCacheSize.
	FunctionNameCacheSize int
}

// Unwinder drives one stack walk over a Maps/Memory pair, optionally
// consulting JIT and DEX runtime-symbol catalogs for frames that fall
// in anonymous JIT-code mappings.
type Unwinder struct {
	Maps   *addrspace.Maps
	Memory memory.Reader
	Arch   arch.Name
	JIT    *jitdebug.Catalog
	DEX    *jitdebug.Catalog
	Opts   Options

	mu     sync.Mutex
	caches *lru.Cache
}

// New builds an Unwinder over the given address space and process
// memory. JIT and DEX catalogs are optional; pass nil to disable
// either.
func New(maps *addrspace.Maps, mem memory.Reader, a arch.Name, jit, dex *jitdebug.Catalog, opts Options) *Unwinder {
	size := opts.FunctionNameCacheSize
	if size <= 0 {
		size = defaultFunctionNameCacheSize
	}
	caches, err := lru.New(size)
	if err != nil {
		caches, _ = lru.New(defaultFunctionNameCacheSize)
	}
	return &Unwinder{Maps: maps, Memory: mem, Arch: a, JIT: jit, DEX: dex, Opts: opts, caches: caches}
}

// moduleCache returns the per-module function-name cache for f,
// creating it on first use. One cache per module, guarded by a
// single lock, evicted by Options.FunctionNameCacheSize LRU pressure
// rather than kept for the unwinder's whole lifetime.
func (u *Unwinder) moduleCache(f *elf.File) *symcache.Cache {
	u.mu.Lock()
	defer u.mu.Unlock()
	if v, ok := u.caches.Get(f); ok {
		return v.(*symcache.Cache)
	}
	c := &symcache.Cache{}
	u.caches.Add(f, c)
	return c
}

// Unwind walks the stack starting from regs (which is mutated in
// place; clone it first if you need to replay), stopping after
// maxFrames or a termination condition.
func (u *Unwinder) Unwind(maxFrames int, regs *arch.Registers) ([]Frame, error) {
	frames := make([]Frame, 0, maxFrames)
	prevPC := ^uint64(0)

	for i := 0; i < maxFrames; i++ {
		pc := regs.PC()
		if pc == prevPC {
			return frames, errkind.New(errkind.RepeatedFrame)
		}
		prevPC = pc

		mi, mErr := u.Maps.Find(pc)
		var f *elf.File
		if mErr == nil {
			f, _ = u.Maps.Elf(mi)
		}
		relPC := relativePC(pc, mi, f)

		fr := Frame{Num: i, PC: pc, RelPC: relPC, SP: regs.SP()}
		if mi != nil {
			fr.MapStart, fr.MapEnd, fr.MapOffset, fr.MapName, fr.MapFlags = mi.Start, mi.End, mi.Offset, mi.Name, mi.Flags
		}
		if u.Opts.ResolveNames {
			u.attributeName(&fr, mi, f, pc)
		}
		if u.Opts.DisplayBuildID && f != nil {
			fr.BuildID = f.GetBuildID()
		}

		nextRegs, outcome, stepErr := u.step(f, mi, relPC, regs)
		fr.IsSignalFrame = outcome.isSignalFrame
		frames = append(frames, fr)

		if stepErr != nil {
			return frames, stepErr
		}
		if outcome.finished {
			return frames, nil
		}
		if !outcome.haveRA || outcome.ra == 0 {
			return frames, nil
		}
		if outcome.newSP == 0 {
			return frames, nil
		}

		regs = nextRegs
		regs.SetPC(outcome.newPC)
		regs.SetSP(outcome.newSP)
	}
	return frames, errkind.New(errkind.MaxFramesExceeded)
}

// step runs one iteration of the per-step algorithm: signal-
// trampoline check, then CFI step, then frame-pointer fallback on
// unwind-info-missing.
func (u *Unwinder) step(f *elf.File, mi *addrspace.MapInfo, relPC uint64, cur *arch.Registers) (*arch.Registers, stepOutcome, error) {
	if f != nil {
		code := make([]byte, 16)
		if n, err := u.Memory.ReadMemory(code, cur.PC()); err == nil && n > 0 {
			if ok, err := stepSignalTrampoline(u.Arch, relPC, code[:n], u.Memory, cur); ok {
				return cur, stepOutcome{isSignalFrame: true, newPC: cur.PC(), newSP: cur.SP(), haveRA: true, ra: cur.PC()}, err
			} else if err != nil {
				return nil, stepOutcome{}, err
			}
		}
	}

	if f != nil {
		regs, outcome, err := stepCFI(f, relPC, cur, u.Memory)
		if err == nil {
			return regs, outcome, nil
		}
		if e, ok := err.(*errkind.Error); !ok || e.Kind != errkind.UnwindInfoMissing {
			return nil, stepOutcome{}, err
		}
	}

	regs, outcome, err := stepFramePointer(u.Arch, cur, u.Memory)
	if err != nil {
		return nil, stepOutcome{finished: true}, nil
	}
	return regs, outcome, nil
}

// attributeName picks the frame's function name: JIT catalogs take
// priority on a JIT-marked mapping, DEX catalogs next, and the
// mapping's own ELF otherwise, each going through the per-module
// function-name cache.
func (u *Unwinder) attributeName(fr *Frame, mi *addrspace.MapInfo, f *elf.File, pc uint64) {
	if mi != nil && mi.Flags&addrspace.FlagJIT != 0 {
		if u.JIT != nil {
			if name, off, ok := u.JIT.GetFunctionName(u.Maps, pc); ok {
				fr.FunctionName, fr.FunctionOffset = name, off
				return
			}
		}
		if u.DEX != nil {
			if name, off, ok := u.DEX.GetFunctionName(u.Maps, pc); ok {
				fr.FunctionName, fr.FunctionOffset = name, off
				return
			}
		}
	}
	if f == nil {
		return
	}
	cache := u.moduleCache(f)
	name, start, ok := cache.Lookup(fr.RelPC, func(fileOffset uint64) (start, end uint64, name string, ok bool) {
		return f.FunctionInterval(fileOffset)
	})
	if ok {
		fr.FunctionName = name
		fr.FunctionOffset = fr.RelPC - start
	}
}
