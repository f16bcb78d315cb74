// Package offline loads and captures the on-disk directory snapshot
// format: a maps.txt, a regs.txt, one or more stack data files, and
// (for JIT-carrying snapshots) descriptor/entry/jit data files, the
// same shape OfflineUnwindUtils.cpp reads for its golden test fixtures.
package offline

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/msft-mirror-aosp/platform.system.unwinding/addrspace"
	"github.com/msft-mirror-aosp/platform.system.unwinding/arch"
	"github.com/msft-mirror-aosp/platform.system.unwinding/errkind"
	"github.com/msft-mirror-aosp/platform.system.unwinding/jitdebug"
	"github.com/msft-mirror-aosp/platform.system.unwinding/memory"
	"github.com/msft-mirror-aosp/platform.system.unwinding/symcache"
)

// Snapshot is a fully loaded offline directory: a ready address
// space, initial register file, and the process-memory reader every
// mapping without a resolvable on-disk file falls back to.
type Snapshot struct {
	Maps   *addrspace.Maps
	Regs   *arch.Registers
	Memory memory.Reader
	Arch   arch.Name

	JIT *jitdebug.Catalog
	DEX *jitdebug.Catalog
}

// Options configures an optional JIT/DEX catalog alongside the plain
// maps+regs+stack load.
type Options struct {
	// SearchLibs restricts which mapped library names the JIT/DEX
	// descriptor scan considers; nil means every mapping.
	SearchLibs []string

	// WithJIT builds a JIT ELF catalog and widens the process-memory
	// search to include descriptor/entry/jit data files alongside the
	// stack files, for JIT snapshots laid out as those data files.
	WithJIT bool

	// DexSymbolizer, if non-nil, also builds a DEX catalog. Offline
	// loading never parses DEX bytecode itself; the caller supplies
	// the symbolizer the same way a live unwind would.
	DexSymbolizer jitdebug.DexSymbolizer
}

// Load reads dir's maps.txt, regs.txt and stack.data/stackN.data into
// a ready Snapshot for architecture a.
func Load(dir string, a arch.Name, opts Options) (*Snapshot, error) {
	mapsText, err := os.ReadFile(filepath.Join(dir, "maps.txt"))
	if err != nil {
		return nil, errkind.Wrap(errkind.InvalidMap, err)
	}

	// A first, memory-less parse exists only to learn the writable
	// mappings' addresses, so the stack data files below can be
	// wrapped at the right starting address before Maps is rebuilt
	// with the real process-memory reader attached.
	probe, err := addrspace.ParseMapsText(string(mapsText), nil, nil)
	if err != nil {
		return nil, err
	}
	var writableStarts []uint64
	for _, m := range probe.Entries() {
		if m.Flags&addrspace.FlagWrite != 0 {
			writableStarts = append(writableStarts, m.Start)
		}
	}

	var mem memory.Reader
	if opts.WithJIT {
		mem, err = loadJitMemory(dir)
	} else {
		mem, err = loadStackMemory(dir, writableStarts)
	}
	if err != nil {
		return nil, err
	}

	mp, err := addrspace.ParseMapsText(string(mapsText), mem, nil)
	if err != nil {
		return nil, err
	}
	rewriteModulePaths(mp, dir)

	regsText, err := os.ReadFile(filepath.Join(dir, "regs.txt"))
	if err != nil {
		return nil, errkind.Wrap(errkind.InvalidParameter, err)
	}
	regs, err := parseRegsText(string(regsText), a)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{Maps: mp, Regs: regs, Memory: mem, Arch: a}

	if opts.WithJIT {
		snap.JIT = jitdebug.NewELFCatalog(mem, a, opts.SearchLibs)
		if opts.DexSymbolizer != nil {
			snap.DEX = jitdebug.NewDexCatalog(mem, a, symcache.NewDexTable(32), opts.DexSymbolizer, dir)
		}
	}

	return snap, nil
}

// loadStackMemory implements SetProcessMemory: prefer a single
// stack.data file, otherwise chain stack0.data, stack1.data, ... until
// the first missing index.
//
// Neither file records its own starting address, so this loader
// adopts a fixed convention: stack.data (the single-file case) starts
// at the lowest writable mapping's address, the same layout Capture
// writes (each writable mapping's bytes back to back, gaps
// zero-filled); each stackN.data (the multi-part case) starts at the
// Nth writable mapping's address, falling back to 0 past the end of
// that list. A filename address suffix (stack0_1000.data) overrides
// the convention, for hand-built fixtures that need a specific start.
func loadStackMemory(dir string, writableStarts []uint64) (memory.Reader, error) {
	single := filepath.Join(dir, "stack.data")
	if data, ok, err := tryReadFile(single); err != nil {
		return nil, err
	} else if ok {
		var start uint64
		if len(writableStarts) > 0 {
			start = writableStarts[0]
		}
		return memory.NewOfflineBuffer(data, start), nil
	}

	parts := memory.NewOfflineParts()
	for i := 0; ; i++ {
		name, start, found, err := findPart(dir, "stack", i)
		if err != nil {
			return nil, err
		}
		if !found {
			if i == 0 {
				return nil, errkind.New(errkind.InvalidParameter)
			}
			break
		}
		if start == nil && i < len(writableStarts) {
			s := writableStarts[i]
			start = &s
		}
		data, err := os.ReadFile(name)
		if err != nil {
			return nil, errkind.Wrap(errkind.InvalidParameter, err)
		}
		var s uint64
		if start != nil {
			s = *start
		}
		parts.Add(memory.NewOfflineBuffer(data, s))
	}
	return parts, nil
}

var jitFileRE = regexp.MustCompile(`^(descriptor|stack|entry|jit)(\d*)(?:_([0-9a-fA-F]+))?\.data$`)

// loadJitMemory implements SetJitProcessMemory: every
// descriptor/stack/entry/jit data file in dir, in name order, folded
// into one MemoryOfflineParts. Each file's starting address comes
// from its optional hex filename suffix (jit0_7f0000.data), defaulting
// to 0 when absent — these fixtures are synthetic test goldens, not
// live captures, so the author controls the naming.
func loadJitMemory(dir string) (memory.Reader, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errkind.Wrap(errkind.InvalidParameter, err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && jitFileRE.MatchString(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	parts := memory.NewOfflineParts()
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, errkind.Wrap(errkind.InvalidParameter, err)
		}
		var start uint64
		if m := jitFileRE.FindStringSubmatch(name); m != nil && m[3] != "" {
			start, _ = strconv.ParseUint(m[3], 16, 64)
		}
		parts.Add(memory.NewOfflineBuffer(data, start))
	}
	return parts, nil
}

// findPart locates stackN.data (optionally address-suffixed) for
// index i, returning its full path and, if a suffix was present, the
// address it encodes.
func findPart(dir, prefix string, i int) (path string, start *uint64, found bool, err error) {
	plain := filepath.Join(dir, prefix+strconv.Itoa(i)+".data")
	if fileExists(plain) {
		return plain, nil, true, nil
	}

	matches, gerr := filepath.Glob(filepath.Join(dir, prefix+strconv.Itoa(i)+"_*.data"))
	if gerr != nil {
		return "", nil, false, errkind.Wrap(errkind.InvalidParameter, gerr)
	}
	if len(matches) == 0 {
		return "", nil, false, nil
	}
	m := jitFileRE.FindStringSubmatch(filepath.Base(matches[0]))
	if m == nil || m[3] == "" {
		return matches[0], nil, true, nil
	}
	v, perr := strconv.ParseUint(m[3], 16, 64)
	if perr != nil {
		return matches[0], nil, true, nil
	}
	return matches[0], &v, true, nil
}

func tryReadFile(path string) (data []byte, ok bool, err error) {
	data, err = os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, errkind.Wrap(errkind.InvalidParameter, err)
	}
	return data, true, nil
}

// rewriteModulePaths repoints every mapping's file name at the copy
// captured alongside it in dir, so addrspace's file-backed ELF
// resolution opens the snapshot's file rather than a host path that
// no longer exists. A mapping whose file was never captured keeps its
// original name; resolving its ELF then falls through to process
// memory, same as a live unwind of an unreadable file.
func rewriteModulePaths(mp *addrspace.Maps, dir string) {
	for _, m := range mp.Entries() {
		if m.Name == "" {
			continue
		}
		base := filepath.Base(m.Name)
		if candidate := filepath.Join(dir, base); fileExists(candidate) {
			m.Name = candidate
			continue
		}
		if matches, err := filepath.Glob(filepath.Join(dir, base+".*")); err == nil && len(matches) > 0 {
			m.Name = matches[0]
		}
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
