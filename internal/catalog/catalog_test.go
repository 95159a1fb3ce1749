package catalog

import "testing"

func TestParseBasename(t *testing.T) {
	cases := []struct {
		name, prefix string
		want         bool
	}{
		{"20240115-120000", "", true},
		{"nightly-20240115-120000", "nightly-", true},
		{"20240115-120000", "nightly-", false},
		{"not-a-timestamp", "", false},
		{"20240115120000", "", false},
		{"2024011X-120000", "", false},
	}
	for _, c := range cases {
		if got := ParseBasename(c.name, c.prefix); got != c.want {
			t.Errorf("ParseBasename(%q, %q) = %v, want %v", c.name, c.prefix, got, c.want)
		}
	}
}

func TestCommonAncestor(t *testing.T) {
	common := NewSet([]string{"20240115-120000", "20240115-120100", "20240115-120300"})

	parent, ok := CommonAncestor(common, "20240115-120200")
	if !ok || parent != "20240115-120100" {
		t.Fatalf("CommonAncestor = %q, %v, want 20240115-120100, true", parent, ok)
	}

	parent, ok = CommonAncestor(common, "20240115-110000")
	if ok {
		t.Fatalf("expected no ancestor strictly before earliest entry, got %q", parent)
	}

	parent, ok = CommonAncestor(NewSet(nil), "20240115-120200")
	if ok {
		t.Fatalf("expected full send for empty common set, got parent %q", parent)
	}
}

func TestSetOps(t *testing.T) {
	src := NewSet([]string{"a", "b", "c"})
	dst := NewSet([]string{"b", "c", "d"})

	inter := src.Intersect(dst)
	if len(inter) != 2 || !inter.Contains("b") || !inter.Contains("c") {
		t.Fatalf("Intersect = %v, want {b, c}", inter)
	}

	diff := src.Difference(dst)
	if len(diff) != 1 || !diff.Contains("a") {
		t.Fatalf("Difference = %v, want {a}", diff)
	}
}

func TestMostRecent(t *testing.T) {
	if _, ok := MostRecent(NewSet(nil)); ok {
		t.Fatal("expected ok=false for empty set")
	}
	name, ok := MostRecent(NewSet([]string{"20240115-120000", "20240115-130000"}))
	if !ok || name != "20240115-130000" {
		t.Fatalf("MostRecent = %q, %v, want 20240115-130000, true", name, ok)
	}
}
