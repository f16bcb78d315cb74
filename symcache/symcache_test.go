package symcache

import "testing"

func TestLookupMissThenHit(t *testing.T) {
	var c Cache
	calls := 0
	resolve := func(pc uint64) (uint64, uint64, string, bool) {
		calls++
		if pc >= 0x100 && pc < 0x200 {
			return 0x100, 0x200, "foo", true
		}
		return 0, 0, "", false
	}

	name, start, ok := c.Lookup(0x150, resolve)
	if !ok || name != "foo" || start != 0x100 {
		t.Fatalf("got %q, %#x, %v", name, start, ok)
	}
	if calls != 1 {
		t.Fatalf("expected resolve to be called once, got %d", calls)
	}

	name, start, ok = c.Lookup(0x180, resolve)
	if !ok || name != "foo" || start != 0x100 {
		t.Fatalf("got %q, %#x, %v", name, start, ok)
	}
	if calls != 1 {
		t.Fatalf("expected cache hit to avoid calling resolve again, got %d calls", calls)
	}
}

func TestLookupMiss(t *testing.T) {
	var c Cache
	_, _, ok := c.Lookup(0x50, func(uint64) (uint64, uint64, string, bool) {
		return 0, 0, "", false
	})
	if ok {
		t.Fatalf("expected miss")
	}
}

func TestLookupMultipleIntervals(t *testing.T) {
	var c Cache
	resolve := func(pc uint64) (uint64, uint64, string, bool) {
		switch {
		case pc >= 0x1000 && pc < 0x1100:
			return 0x1000, 0x1100, "a", true
		case pc >= 0x2000 && pc < 0x2100:
			return 0x2000, 0x2100, "b", true
		case pc >= 0x500 && pc < 0x600:
			return 0x500, 0x600, "z", true
		}
		return 0, 0, "", false
	}

	for _, tc := range []struct {
		pc        uint64
		want      string
		wantStart uint64
	}{
		{0x2050, "b", 0x2000},
		{0x1050, "a", 0x1000},
		{0x550, "z", 0x500},
	} {
		name, start, ok := c.Lookup(tc.pc, resolve)
		if !ok || name != tc.want || start != tc.wantStart {
			t.Fatalf("pc=%#x: got %q, %#x, %v, want %q, %#x", tc.pc, name, start, ok, tc.want, tc.wantStart)
		}
	}

	if len(c.entries) != 3 {
		t.Fatalf("expected 3 cached intervals, got %d", len(c.entries))
	}
	for i := 1; i < len(c.entries); i++ {
		if c.entries[i-1].end >= c.entries[i].end {
			t.Fatalf("entries not sorted by end: %v", c.entries)
		}
	}
}

func TestDexTableInterns(t *testing.T) {
	table := NewDexTable(4)
	calls := 0
	parse := func() (interface{}, error) {
		calls++
		return "parsed-dex", nil
	}

	v1, err := table.Intern("/system/framework/boot.dex", 0x1000, 0x2000, parse)
	if err != nil || v1 != "parsed-dex" {
		t.Fatalf("got %v, %v", v1, err)
	}
	v2, err := table.Intern("/system/framework/boot.dex", 0x1000, 0x2000, parse)
	if err != nil || v2 != "parsed-dex" {
		t.Fatalf("got %v, %v", v2, err)
	}
	if calls != 1 {
		t.Fatalf("expected one parse call across both Intern calls, got %d", calls)
	}

	if _, err := table.Intern("/system/framework/boot.dex", 0x3000, 0x2000, parse); err != nil {
		t.Fatalf("different offset should miss and parse fresh: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected a second parse for a distinct key, got %d", calls)
	}
}
