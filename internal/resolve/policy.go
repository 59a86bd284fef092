package resolve

import (
	"fmt"
	"sort"

	"github.com/dustin/go-humanize"

	"github.com/franz/library-dedup/internal/catalog"
)

// Policy selects the keeper of a duplicate group. It is pure: same group
// in, same plan out, no I/O.
type Policy struct {
	// PreferCompleteness promotes metadata completeness above format
	// quality in the ranking. Off by default.
	PreferCompleteness bool
}

// criterion compares two candidates and returns >0 when a should be kept
// over b, <0 for the reverse, 0 when the criterion cannot decide.
type criterion struct {
	name string
	cmp  func(a, b *catalog.Item) int
}

func formatRank(a, b *catalog.Item) int {
	return a.Format.Rank() - b.Format.Rank()
}

func metadataCompleteness(a, b *catalog.Item) int {
	return a.MetadataFields() - b.MetadataFields()
}

func sizeBytes(a, b *catalog.Item) int {
	switch {
	case a.SizeBytes > b.SizeBytes:
		return 1
	case a.SizeBytes < b.SizeBytes:
		return -1
	}
	return 0
}

// Older files win: the earliest copy is the one the library grew around.
func earliestMtime(a, b *catalog.Item) int {
	switch {
	case a.MtimeUnix < b.MtimeUnix:
		return 1
	case a.MtimeUnix > b.MtimeUnix:
		return -1
	}
	return 0
}

func lexicalIdentity(a, b *catalog.Item) int {
	switch {
	case a.Identity < b.Identity:
		return 1
	case a.Identity > b.Identity:
		return -1
	}
	return 0
}

func (p *Policy) criteria() []criterion {
	base := []criterion{
		{"format quality", formatRank},
		{"metadata completeness", metadataCompleteness},
		{"file size", sizeBytes},
		{"earliest copy", earliestMtime},
		{"identity order", lexicalIdentity},
	}
	if p.PreferCompleteness {
		base[0], base[1] = base[1], base[0]
	}
	return base
}

// Decide computes the resolution plan for a duplicate group: one keeper,
// everything else archived. Conflicting groups are never decided.
func (p *Policy) Decide(g *catalog.DuplicateGroup) (*catalog.ResolutionPlan, error) {
	if g.Conflicting {
		return nil, fmt.Errorf("group %s has conflicting fingerprints, refusing to plan", g.Key)
	}
	if len(g.Members) < 2 {
		return nil, fmt.Errorf("group %s has %d members, nothing to resolve", g.Key, len(g.Members))
	}

	criteria := p.criteria()

	ranked := make([]*catalog.Item, len(g.Members))
	copy(ranked, g.Members)
	sort.SliceStable(ranked, func(i, j int) bool {
		for _, c := range criteria {
			if d := c.cmp(ranked[i], ranked[j]); d != 0 {
				return d > 0
			}
		}
		return false
	})

	keep := ranked[0]
	archive := ranked[1:]

	return &catalog.ResolutionPlan{
		GroupKey: g.Key,
		Keep:     keep,
		Archive:  archive,
		Reason:   p.reason(keep, archive[0], criteria),
	}, nil
}

// reason names the first criterion that separated the keeper from the
// runner-up, so the plan explains itself.
func (p *Policy) reason(keep, runnerUp *catalog.Item, criteria []criterion) string {
	for _, c := range criteria {
		if c.cmp(keep, runnerUp) == 0 {
			continue
		}
		switch c.name {
		case "format quality":
			return fmt.Sprintf("%s over %s on format quality", keep.Format, runnerUp.Format)
		case "metadata completeness":
			return fmt.Sprintf("%d metadata fields over %d", keep.MetadataFields(), runnerUp.MetadataFields())
		case "file size":
			return fmt.Sprintf("larger file (%s over %s)",
				humanize.Bytes(uint64(keep.SizeBytes)), humanize.Bytes(uint64(runnerUp.SizeBytes)))
		case "earliest copy":
			return "earliest copy in the library"
		default:
			return "identity order tie-break"
		}
	}
	return "identity order tie-break"
}
