package catalog

import "sort"

// MatchTier is one matching strategy in the duplicate-detection cascade.
type MatchTier string

const (
	TierExactFingerprint MatchTier = "EXACT_FINGERPRINT"
	TierFuzzyMetadata    MatchTier = "FUZZY_METADATA"
	TierNgramToken       MatchTier = "NGRAM_TOKEN"
)

// DuplicateGroup is a canonical record with two or more members believed to
// be the same track. Conflicting groups (members carrying fingerprints that
// disagree) are never auto-resolved.
type DuplicateGroup struct {
	Key         string
	Tier        MatchTier
	Confidence  float64
	Conflicting bool
	Hint        string
	Members     []*Item
}

// SortMembers orders members by earliest mtime, then lexical identity, for
// deterministic resolution and reproducible tests.
func (g *DuplicateGroup) SortMembers() {
	sort.Slice(g.Members, func(a, b int) bool {
		if g.Members[a].MtimeUnix != g.Members[b].MtimeUnix {
			return g.Members[a].MtimeUnix < g.Members[b].MtimeUnix
		}
		if g.Members[a].Identity != g.Members[b].Identity {
			return g.Members[a].Identity < g.Members[b].Identity
		}
		return g.Members[a].Store < g.Members[b].Store
	})
}

// IsDuplicate reports whether the group needs resolution.
func (g *DuplicateGroup) IsDuplicate() bool {
	return len(g.Members) >= 2
}

// ResolutionPlan is the computed outcome for one duplicate group: the item
// to keep and the items to archive, with a human-readable reason.
type ResolutionPlan struct {
	GroupKey string
	Keep     *Item
	Archive  []*Item
	Reason   string
}
