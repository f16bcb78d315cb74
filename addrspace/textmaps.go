package addrspace

import (
	"bufio"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/msft-mirror-aosp/platform.system.unwinding/errkind"
	"github.com/msft-mirror-aosp/platform.system.unwinding/memory"
)

// ParseMapsText parses a maps.txt-style buffer ("HEX-HEX PERMS HEX
// DEV INO [NAME]" per line, matching /proc/pid/maps) into a Maps.
// Input order is not required to be sorted; entries are sorted by
// Start before NewMaps links the adjacency chains.
func ParseMapsText(text string, processMemory memory.Reader, codec memory.Codec) (*Maps, error) {
	var entries []*MapInfo
	sc := bufio.NewScanner(strings.NewReader(text))
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		mi, err := parseMapLine(line)
		if err != nil {
			return nil, err
		}
		entries = append(entries, mi)
	}
	if err := sc.Err(); err != nil {
		return nil, errkind.Wrap(errkind.InvalidMap, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Start < entries[j].Start })
	return NewMaps(entries, processMemory, codec), nil
}

func parseMapLine(line string) (*MapInfo, error) {
	fields := strings.Fields(line)
	if len(fields) < 5 {
		return nil, errkind.New(errkind.InvalidMap)
	}

	bounds := strings.SplitN(fields[0], "-", 2)
	if len(bounds) != 2 {
		return nil, errkind.New(errkind.InvalidMap)
	}
	start, err := strconv.ParseUint(bounds[0], 16, 64)
	if err != nil {
		return nil, errkind.Wrap(errkind.InvalidMap, err)
	}
	end, err := strconv.ParseUint(bounds[1], 16, 64)
	if err != nil {
		return nil, errkind.Wrap(errkind.InvalidMap, err)
	}

	perms := fields[1]
	if len(perms) != 4 {
		return nil, errkind.New(errkind.InvalidMap)
	}
	var flags MapFlags
	if perms[0] == 'r' {
		flags |= FlagRead
	}
	if perms[1] == 'w' {
		flags |= FlagWrite
	}
	if perms[2] == 'x' {
		flags |= FlagExec
	}

	offset, err := strconv.ParseUint(fields[2], 16, 64)
	if err != nil {
		return nil, errkind.Wrap(errkind.InvalidMap, err)
	}

	dev := fields[3]

	inode, err := strconv.ParseUint(fields[4], 10, 64)
	if err != nil {
		return nil, errkind.Wrap(errkind.InvalidMap, err)
	}

	var name string
	if len(fields) > 5 {
		name = strings.Join(fields[5:], " ")
	}

	if dev != "00:00" && inode != 0 {
		flags |= FlagDevice
	}

	return &MapInfo{Start: start, End: end, Offset: offset, Flags: flags, Name: name, dev: dev, inode: inode}, nil
}

// FormatMapsText renders mp back into maps.txt form, in Start order.
// Re-parsing the result with ParseMapsText yields MapInfo entries
// equal in every field ParseMapsText can itself produce.
func FormatMapsText(mp *Maps) string {
	var b strings.Builder
	for _, m := range mp.Entries() {
		fmt.Fprintf(&b, "%x-%x %s %x %s %d", m.Start, m.End, permString(m.Flags), m.Offset, m.devOrDefault(), m.inode)
		if m.Name != "" {
			b.WriteByte(' ')
			b.WriteString(m.Name)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func permString(f MapFlags) string {
	r, w, x := byte('-'), byte('-'), byte('-')
	if f&FlagRead != 0 {
		r = 'r'
	}
	if f&FlagWrite != 0 {
		w = 'w'
	}
	if f&FlagExec != 0 {
		x = 'x'
	}
	return string([]byte{r, w, x, 'p'})
}

func (m *MapInfo) devOrDefault() string {
	if m.dev == "" {
		return "00:00"
	}
	return m.dev
}
