package topic

import "testing"

func TestFilter_MatchesPrefix(t *testing.T) {
	f := NewFilter()
	f.Add(MustNew("a/b"))

	if !f.Match(MustNew("a/b/c")) {
		t.Errorf("expected a/b to match a/b/c")
	}
	if f.Match(MustNew("a/c")) {
		t.Errorf("expected a/b not to match a/c")
	}
	if !f.Match(MustNew("a/b")) {
		t.Errorf("expected a/b to match itself")
	}
}

func TestFilter_DuplicateAddCollapsesRefcount(t *testing.T) {
	f := NewFilter()
	f.Add(MustNew("a/b"))
	f.Add(MustNew("a/b"))

	if f.Size() != 1 {
		t.Errorf("expected size 1 after duplicate add, got %d", f.Size())
	}

	f.Remove(MustNew("a/b"))
	if !f.Match(MustNew("a/b")) {
		t.Errorf("expected a/b to still match after removing one of two refs")
	}

	f.Remove(MustNew("a/b"))
	if f.Match(MustNew("a/b")) {
		t.Errorf("expected a/b not to match after removing last ref")
	}
}

func TestFilter_RemovePrunesDeadNodes(t *testing.T) {
	f := NewFilter()
	f.Add(MustNew("a/b/c"))
	f.Remove(MustNew("a/b/c"))

	if len(f.root.children) != 0 {
		t.Errorf("expected trie pruned back to the root after removing the only subscription")
	}
}

func TestFilter_RemoveUnknownIsNoop(t *testing.T) {
	f := NewFilter()
	before := f.Version()
	f.Remove(MustNew("never/added"))
	if f.Version() != before {
		t.Errorf("expected version unchanged after removing an absent topic")
	}
}

func TestFilter_VersionIncreasesOnStructuralChange(t *testing.T) {
	f := NewFilter()
	v0 := f.Version()
	v1 := f.Add(MustNew("a/b"))
	if v1 <= v0 {
		t.Errorf("expected version to increase on Add")
	}
	v2 := f.Remove(MustNew("a/b"))
	if v2 <= v1 {
		t.Errorf("expected version to increase on Remove")
	}
}

func TestFilter_SnapshotRoundTrips(t *testing.T) {
	f := NewFilter()
	topics := []Topic{MustNew("a/b"), MustNew("a/c"), MustNew("x")}
	for _, tp := range topics {
		f.Add(tp)
	}

	snap := f.Snapshot()
	if len(snap) != len(topics) {
		t.Fatalf("expected %d topics in snapshot, got %d", len(topics), len(snap))
	}

	g := NewFilter()
	for _, tp := range snap {
		g.Add(tp)
	}
	for _, tp := range topics {
		if !g.Match(tp) {
			t.Errorf("expected rebuilt filter to match %s", tp.String())
		}
	}
}

func TestFilter_SnapshotDoesNotAliasSiblingPrefixes(t *testing.T) {
	f := NewFilter()
	f.Add(MustNew("a/b"))
	f.Add(MustNew("a/c"))

	snap := f.Snapshot()
	seen := map[string]bool{}
	for _, tp := range snap {
		seen[tp.String()] = true
	}
	if !seen["a/b"] || !seen["a/c"] {
		t.Errorf("expected both sibling topics intact in snapshot, got %v", snap)
	}
}
