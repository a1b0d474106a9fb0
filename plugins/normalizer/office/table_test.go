package office

import "testing"

func TestRenderTable(t *testing.T) {
	cases := []struct {
		name string
		cols []string
		rows [][]string
		want string
	}{
		{"empty", nil, nil, ""},
		{"header only", []string{"a", "bb"}, nil, "a  bb"},
		{"right aligned", []string{"n", "v"}, [][]string{{"10", "x"}, {"2", "yy"}}, " n   v\n10   x\n 2  yy"},
		{"wide runes", []string{"名称"}, [][]string{{"a"}}, "名称\n   a"},
		{"newline folded", []string{"k"}, [][]string{{"a\nb"}}, "  k\na b"},
	}
	for _, c := range cases {
		if got := renderTable(c.cols, c.rows); got != c.want {
			t.Fatalf("%s: got %q want %q", c.name, got, c.want)
		}
	}
}

func TestTruncateRunes(t *testing.T) {
	if s, cut := truncateRunes("héllo", 2); s != "hé" || !cut {
		t.Fatalf("got %q %v", s, cut)
	}
	if s, cut := truncateRunes("abc", 3); s != "abc" || cut {
		t.Fatalf("got %q %v", s, cut)
	}
}
