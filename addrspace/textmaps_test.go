package addrspace

import "testing"

func TestParseMapsTextBasic(t *testing.T) {
	text := "1000-2000 r-xp 0 103:03 1234 libfoo.so\n" +
		"3000-4000 rw-p 1000 00:00 0\n"
	mp, err := ParseMapsText(text, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	entries := mp.Entries()
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].Start != 0x1000 || entries[0].End != 0x2000 || entries[0].Name != "libfoo.so" {
		t.Fatalf("entry 0 = %+v", entries[0])
	}
	if entries[0].Flags&FlagExec == 0 || entries[0].Flags&FlagWrite != 0 {
		t.Fatalf("entry 0 flags = %v, want r-x", entries[0].Flags)
	}
	if entries[0].Flags&FlagDevice == 0 {
		t.Fatalf("entry 0 should be classified as a device map (non-null dev+inode)")
	}
	if entries[1].Flags&FlagDevice != 0 {
		t.Fatalf("entry 1 should not be a device map (dev 00:00, inode 0)")
	}
}

func TestFormatMapsTextRoundTrip(t *testing.T) {
	text := "1000-2000 r-xp 0 103:03 1234 libfoo.so\n3000-4000 rw-p 1000 00:00 0\n"
	mp, err := ParseMapsText(text, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	formatted := FormatMapsText(mp)

	mp2, err := ParseMapsText(formatted, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error reparsing: %v", err)
	}
	a, b := mp.Entries(), mp2.Entries()
	if len(a) != len(b) {
		t.Fatalf("entry count changed across round trip: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i].Start != b[i].Start || a[i].End != b[i].End || a[i].Offset != b[i].Offset ||
			a[i].Flags != b[i].Flags || a[i].Name != b[i].Name {
			t.Fatalf("entry %d changed across round trip: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestParseMapsTextRejectsShortLine(t *testing.T) {
	if _, err := ParseMapsText("1000-2000 r-xp\n", nil, nil); err == nil {
		t.Fatalf("expected an error for a line missing dev/inode fields")
	}
}
