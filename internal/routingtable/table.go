// Package routingtable implements the path-vector routing table
// (component C): per-destination best-path entries with versions and
// distances, a reverse index for O(degree) cleanup on peer disconnect,
// and an age-limited blacklist of withdrawn (destination, next-hop)
// pairs. The blacklist is recorded and queryable (IsBlacklisted), but
// ReceiveAdvertisement does not consult it: a blacklisted path is
// reinstalled by the next advertisement that arrives for it.
//
// This generalizes the teacher's stubbed in-memory routing table (its
// TODO called out a trie/hash-map design for wildcard lookup and
// gossip-based rebuild) into the distributed path-vector protocol
// spec.md §4.C describes: entries are now keyed by destination
// endpoint, not by client subscription, and are installed by received
// advertisements rather than direct Subscribe calls.
package routingtable

import (
	"sync"
	"time"

	"github.com/brokermesh/brokermesh/pkg/brokerid"
)

// Entry is one destination's best-known path.
type Entry struct {
	Dest        brokerid.ID
	Distance    int
	NextHop     brokerid.ID
	Version     uint64
	LastRefresh time.Time
}

// Advertisement is a received or outgoing subscription advertisement:
// the destination being announced, its monotonic version, and the
// path already traversed from that destination to the sender.
type Advertisement struct {
	Dest    brokerid.ID
	Version uint64
	Path    []brokerid.ID
}

// Outcome reports what ReceiveAdvertisement did with an advertisement.
type Outcome int

const (
	// OutcomeIgnoredStale: version at or below what this neighbor has
	// already told us for this destination.
	OutcomeIgnoredStale Outcome = iota
	// OutcomeDroppedLoop: the path already contains the local id.
	OutcomeDroppedLoop
	// OutcomeKept: a valid, newer advertisement that did not beat the
	// current best path; only the refresh timestamp changed.
	OutcomeKept
	// OutcomeInstalled: a new best path was installed; Rebroadcast
	// carries the advertisement to propagate to every other peer
	// (split horizon: never back to the sender).
	OutcomeInstalled
)

// Result is the outcome of ReceiveAdvertisement.
type Result struct {
	Outcome     Outcome
	Rebroadcast Advertisement
}

// blacklistKey identifies a (dest, next-hop-path) withdrawal to age out.
type blacklistKey struct {
	dest brokerid.ID
	path string
}

type blacklistEntry struct {
	expiresAt time.Time
}

// Table is the per-endpoint path-vector routing table.
type Table struct {
	mu sync.RWMutex

	local brokerid.ID

	entries map[brokerid.ID]*Entry
	// byPeer indexes destinations reachable via each next-hop peer,
	// for O(degree) cleanup on disconnect.
	byPeer map[brokerid.ID]map[brokerid.ID]struct{}
	// lastSeen deduplicates advertisements per (dest, neighbor) pair,
	// independent of whether they became the installed best path.
	lastSeen map[brokerid.ID]map[brokerid.ID]uint64

	blacklist    map[blacklistKey]blacklistEntry
	blacklistTTL time.Duration

	localVersion uint64
}

// New returns an empty routing table for the given local endpoint id.
func New(local brokerid.ID, blacklistTTL time.Duration) *Table {
	if blacklistTTL <= 0 {
		blacklistTTL = 30 * time.Second
	}
	return &Table{
		local:        local,
		entries:      make(map[brokerid.ID]*Entry),
		byPeer:       make(map[brokerid.ID]map[brokerid.ID]struct{}),
		lastSeen:     make(map[brokerid.ID]map[brokerid.ID]uint64),
		blacklist:    make(map[blacklistKey]blacklistEntry),
		blacklistTTL: blacklistTTL,
	}
}

func pathKey(path []brokerid.ID) string {
	b := make([]byte, 0, len(path)*brokerid.Size)
	for _, p := range path {
		b = append(b, p[:]...)
	}
	return string(b)
}

// ReceiveAdvertisement applies the five receipt rules from spec.md
// §4.C for an advertisement received directly from fromPeer.
func (t *Table) ReceiveAdvertisement(fromPeer brokerid.ID, adv Advertisement, now time.Time) Result {
	t.mu.Lock()
	defer t.mu.Unlock()

	seenForDest := t.lastSeen[adv.Dest]
	if seenForDest == nil {
		seenForDest = make(map[brokerid.ID]uint64)
		t.lastSeen[adv.Dest] = seenForDest
	}
	if adv.Version <= seenForDest[fromPeer] {
		return Result{Outcome: OutcomeIgnoredStale}
	}
	seenForDest[fromPeer] = adv.Version

	if brokerid.Contains(adv.Path, t.local) {
		return Result{Outcome: OutcomeDroppedLoop}
	}

	distance := len(adv.Path) + 1
	entry := t.entries[adv.Dest]

	install := false
	switch {
	case entry == nil:
		install = true
	case distance < entry.Distance:
		install = true
	case distance == entry.Distance && fromPeer.Less(entry.NextHop):
		install = true
	}

	if !install {
		if entry != nil {
			entry.LastRefresh = now
		}
		return Result{Outcome: OutcomeKept}
	}

	if entry != nil && entry.NextHop != fromPeer {
		t.unindexLocked(entry.Dest, entry.NextHop)
	}

	newEntry := &Entry{
		Dest:        adv.Dest,
		Distance:    distance,
		NextHop:     fromPeer,
		Version:     adv.Version,
		LastRefresh: now,
	}
	t.entries[adv.Dest] = newEntry
	t.indexLocked(adv.Dest, fromPeer)

	t.localVersion++
	rebroadcast := Advertisement{
		Dest:    adv.Dest,
		Version: t.localVersion,
		Path:    brokerid.AppendUnique(adv.Path, t.local),
	}
	return Result{Outcome: OutcomeInstalled, Rebroadcast: rebroadcast}
}

func (t *Table) indexLocked(dest, peer brokerid.ID) {
	set := t.byPeer[peer]
	if set == nil {
		set = make(map[brokerid.ID]struct{})
		t.byPeer[peer] = set
	}
	set[dest] = struct{}{}
}

func (t *Table) unindexLocked(dest, peer brokerid.ID) {
	if set, ok := t.byPeer[peer]; ok {
		delete(set, dest)
		if len(set) == 0 {
			delete(t.byPeer, peer)
		}
	}
}

// Withdraw removes dest's entry if its current best path is via
// fromPeer, blacklisting the withdrawn path. Reports whether the
// local endpoint must itself rebroadcast the withdrawal (its best
// path actually changed).
func (t *Table) Withdraw(fromPeer, dest brokerid.ID, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry := t.entries[dest]
	if entry == nil || entry.NextHop != fromPeer {
		return false
	}
	t.blacklistLocked(dest, entry.Path(), now)
	delete(t.entries, dest)
	t.unindexLocked(dest, fromPeer)
	return true
}

// Path returns the one-element path [NextHop], not the path vector
// this entry was installed with: the entry only stores NextHop and
// Distance, and for blacklist aging we just need a stable key, so we
// key on (dest, next-hop) rather than the full historical path.
func (e *Entry) Path() []brokerid.ID {
	return []brokerid.ID{e.NextHop}
}

func (t *Table) blacklistLocked(dest brokerid.ID, path []brokerid.ID, now time.Time) {
	t.blacklist[blacklistKey{dest: dest, path: pathKey(path)}] = blacklistEntry{
		expiresAt: now.Add(t.blacklistTTL),
	}
}

// IsBlacklisted reports whether (dest, via) is currently held as a
// recently-withdrawn path.
func (t *Table) IsBlacklisted(dest, via brokerid.ID, now time.Time) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.blacklist[blacklistKey{dest: dest, path: pathKey([]brokerid.ID{via})}]
	if !ok {
		return false
	}
	return now.Before(e.expiresAt)
}

// SweepBlacklist removes expired blacklist entries and reports how many
// it removed. Nothing in the endpoint calls it; expired entries stay in
// the map (IsBlacklisted already treats them as absent) until a caller
// does.
func (t *Table) SweepBlacklist(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for k, e := range t.blacklist {
		if !now.Before(e.expiresAt) {
			delete(t.blacklist, k)
			removed++
		}
	}
	return removed
}

// DisconnectPeer synthesizes withdrawals for every destination whose
// next-hop was the departing peer, per spec.md §3's lifecycle rule
// (iii). Returns the withdrawn destinations for the caller to
// rebroadcast onward.
func (t *Table) DisconnectPeer(peer brokerid.ID, now time.Time) []brokerid.ID {
	t.mu.Lock()
	defer t.mu.Unlock()

	dests := t.byPeer[peer]
	withdrawn := make([]brokerid.ID, 0, len(dests))
	for dest := range dests {
		entry := t.entries[dest]
		if entry == nil {
			continue
		}
		t.blacklistLocked(dest, entry.Path(), now)
		delete(t.entries, dest)
		withdrawn = append(withdrawn, dest)
	}
	delete(t.byPeer, peer)
	return withdrawn
}

// BestNextHop returns the next-hop peer for dest, if known.
func (t *Table) BestNextHop(dest brokerid.ID) (brokerid.ID, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[dest]
	if !ok {
		return brokerid.Nil, false
	}
	return e.NextHop, true
}

// Entries returns a snapshot of every known routing entry.
func (t *Table) Entries() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Entry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, *e)
	}
	return out
}

// Len reports the number of destinations currently routed.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}
