// Package format renders unwound frames into the one-line-per-frame
// text representation callers print or log.
package format

import (
	"fmt"
	"strings"

	"github.com/msft-mirror-aosp/platform.system.unwinding/unwinder"
)

// Options controls what FormatFrame includes beyond the bare pc/module.
type Options struct {
	// DisplayBuildID appends " (BuildId: HEX)" when the frame's module
	// build ID is known.
	DisplayBuildID bool

	// EmbeddedSOName renders a frame whose module name contains an
	// APK-embedded-library marker ("app.apk!lib/libfoo.so") as
	// "app.apk!libfoo.so (offset 0xOFF)" instead of the bare module
	// name, per an APK's own ZIP member naming.
	EmbeddedSOName bool

	// Demangle, if non-nil, is applied to FunctionName before
	// rendering. Demangling itself is a collaborator's job; this
	// package only calls the hook the caller supplies.
	Demangle func(string) string

	// AddrSize sizes the zero-padded pc field (4 or 8 bytes); 8 if zero.
	AddrSize int
}

// FormatFrame renders one frame as
// "  #NN pc HEX  MODULE (SYMBOL+OFF)[ (BuildId: HEX)]", matching the
// two-space indent and double-space module separator of the real
// tool's own frame dumps.
func FormatFrame(fr unwinder.Frame, opts Options) string {
	addrSize := opts.AddrSize
	if addrSize == 0 {
		addrSize = 8
	}

	var b strings.Builder
	fmt.Fprintf(&b, "  #%02d pc %0*x  ", fr.Num, addrSize*2, fr.PC)
	b.WriteString(moduleName(fr, opts))

	if fr.FunctionName != "" {
		name := fr.FunctionName
		if opts.Demangle != nil {
			name = opts.Demangle(name)
		}
		fmt.Fprintf(&b, " (%s", name)
		if fr.FunctionOffset != 0 {
			fmt.Fprintf(&b, "+%d", fr.FunctionOffset)
		}
		b.WriteString(")")
	}

	if opts.DisplayBuildID && fr.BuildID != "" {
		fmt.Fprintf(&b, " (BuildId: %s)", fr.BuildID)
	}

	return b.String()
}

// moduleName resolves the MODULE field: "<unknown>" with no mapping at
// all, "<anonymous:HEX>" for a nameless mapping (the start address of
// the mapping in hex), the bare map name for an ordinary module, or
// (when opts.EmbeddedSOName and the name carries an APK '!' marker)
// "APK!LIB (offset 0xOFF)".
func moduleName(fr unwinder.Frame, opts Options) string {
	if fr.MapName == "" {
		if fr.MapStart == 0 && fr.MapEnd == 0 {
			return "<unknown>"
		}
		return fmt.Sprintf("<anonymous:%x>", fr.MapStart)
	}
	if opts.EmbeddedSOName {
		if apk, lib, ok := splitAPKMember(fr.MapName); ok {
			return fmt.Sprintf("%s!%s (offset 0x%x)", apk, lib, fr.MapOffset)
		}
	}
	return fr.MapName
}

// splitAPKMember splits a map name of the form "/path/app.apk!lib/x.so"
// into ("app.apk", "x.so", true); ok is false for a plain path.
func splitAPKMember(name string) (apk, lib string, ok bool) {
	bang := strings.IndexByte(name, '!')
	if bang < 0 {
		return "", "", false
	}
	path, member := name[:bang], name[bang+1:]
	if slash := strings.LastIndexByte(path, '/'); slash >= 0 {
		path = path[slash+1:]
	}
	if slash := strings.LastIndexByte(member, '/'); slash >= 0 {
		member = member[slash+1:]
	}
	return path, member, true
}
