package offline

import (
	"bufio"
	"strconv"
	"strings"

	"github.com/msft-mirror-aosp/platform.system.unwinding/arch"
	"github.com/msft-mirror-aosp/platform.system.unwinding/errkind"
)

// parseRegsText parses a regs.txt buffer ("name: hex\n" per register,
// in any order) into a Registers file for architecture a. Every name
// must resolve through a.NameToDwarf(); an unknown name is an error,
// the same strictness as ReadRegs's name_to_reg lookup.
func parseRegsText(text string, a arch.Name) (*arch.Registers, error) {
	table := a.NameToDwarf()
	if table == nil {
		return nil, errkind.New(errkind.Unsupported)
	}

	r := arch.NewRegisters(a, int(a.MaxRegNum())+1)
	sc := bufio.NewScanner(strings.NewReader(text))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, errkind.New(errkind.InvalidParameter)
		}
		name := strings.TrimSuffix(fields[0], ":")
		num, ok := table[name]
		if !ok {
			return nil, errkind.New(errkind.InvalidParameter)
		}
		val, err := strconv.ParseUint(fields[1], 16, 64)
		if err != nil {
			return nil, errkind.Wrap(errkind.InvalidParameter, err)
		}
		r.Set(num, val)
	}
	if err := sc.Err(); err != nil {
		return nil, errkind.Wrap(errkind.InvalidParameter, err)
	}
	return r, nil
}

// formatRegsText is the inverse of parseRegsText, used by Capture to
// write a live tracer's register file out in the same "name: hex"
// form a snapshot directory expects.
func formatRegsText(r *arch.Registers) string {
	var b strings.Builder
	r.Each(func(name string, value uint64) {
		b.WriteString(name)
		b.WriteString(": ")
		b.WriteString(strconv.FormatUint(value, 16))
		b.WriteByte('\n')
	})
	return b.String()
}
