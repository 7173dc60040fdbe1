package introspect

import "testing"

func TestParseEnumValues(t *testing.T) {
	cases := map[string][]string{
		"enum('a','b','c')":    {"a", "b", "c"},
		"enum('it''s','ok')":   {"it's", "ok"},
		"varchar(100)":         nil,
		"set('x','y')":         {"x", "y"},
	}
	for in, want := range cases {
		got := ParseEnumValues(in)
		if len(got) != len(want) {
			t.Errorf("ParseEnumValues(%q) = %v, want %v", in, got, want)
			continue
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("ParseEnumValues(%q) = %v, want %v", in, got, want)
				break
			}
		}
	}
}

func TestLiveColumn_AutoIncrement(t *testing.T) {
	c := LiveColumn{Extra: "auto_increment"}
	if !c.AutoIncrement() {
		t.Error("expected AutoIncrement true")
	}
	c2 := LiveColumn{Extra: ""}
	if c2.AutoIncrement() {
		t.Error("expected AutoIncrement false")
	}
}

func TestSortIndexNames(t *testing.T) {
	idx := []LiveIndex{{Name: "idx_b"}, {Name: "idx_a"}, {Name: "PRIMARY"}}
	got := SortIndexNames(idx)
	want := []string{"PRIMARY", "idx_a", "idx_b"}
	if len(got) != len(want) {
		t.Fatalf("SortIndexNames() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("SortIndexNames()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
