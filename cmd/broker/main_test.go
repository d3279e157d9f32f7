package main

import "testing"

func TestSplitPeers(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"a:1", []string{"a:1"}},
		{"a:1, b:2 ,c:3", []string{"a:1", "b:2", "c:3"}},
		{" , ", nil},
	}

	for _, c := range cases {
		got := splitPeers(c.in)
		if len(got) != len(c.want) {
			t.Errorf("splitPeers(%q) = %v, want %v", c.in, got, c.want)
			continue
		}
		for i := range got {
			if got[i] != c.want[i] {
				t.Errorf("splitPeers(%q)[%d] = %q, want %q", c.in, i, got[i], c.want[i])
			}
		}
	}
}
