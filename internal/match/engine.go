package match

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/franz/library-dedup/internal/catalog"
	"github.com/franz/library-dedup/internal/fingerprint"
	"github.com/franz/library-dedup/internal/report"
	"github.com/franz/library-dedup/internal/store"
	"github.com/franz/library-dedup/internal/util"
)

// Default thresholds for the cascade tiers
const (
	DefaultFuzzyThreshold = 0.85
	DefaultNgramSize      = 3
	DefaultNgramThreshold = 0.60
	DefaultHammingMax     = 8
)

// Engine runs the duplicate-detection cascade over the active catalog.
// Each item is claimed by the first tier that groups it: exact fingerprint
// first, then fuzzy metadata, then n-gram tokens as the last resort for
// items with thin or absent tags.
type Engine struct {
	store          *store.Store
	logger         *report.EventLogger
	fuzzyThreshold float64
	ngramSize      int
	ngramThreshold float64
	hammingMax     int
}

// Config holds match engine configuration
type Config struct {
	Store          *store.Store
	Logger         *report.EventLogger
	FuzzyThreshold float64
	NgramSize      int
	NgramThreshold float64
	HammingMax     int
}

// New creates a match engine
func New(cfg *Config) *Engine {
	e := &Engine{
		store:          cfg.Store,
		logger:         cfg.Logger,
		fuzzyThreshold: cfg.FuzzyThreshold,
		ngramSize:      cfg.NgramSize,
		ngramThreshold: cfg.NgramThreshold,
		hammingMax:     cfg.HammingMax,
	}
	if e.fuzzyThreshold <= 0 || e.fuzzyThreshold > 1 {
		e.fuzzyThreshold = DefaultFuzzyThreshold
	}
	if e.ngramSize <= 0 {
		e.ngramSize = DefaultNgramSize
	}
	if e.ngramThreshold <= 0 || e.ngramThreshold > 1 {
		e.ngramThreshold = DefaultNgramThreshold
	}
	if e.hammingMax <= 0 || e.hammingMax > 63 {
		e.hammingMax = DefaultHammingMax
	}
	return e
}

// Result represents matching results
type Result struct {
	GroupsCreated     int
	ExactGroups       int
	FuzzyGroups       int
	NgramGroups       int
	ConflictingGroups int
	ItemsGrouped      int
}

// Run rebuilds all duplicate groups from the active catalog
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	util.InfoLog("Starting duplicate matching")

	items, err := e.store.GetActiveItems()
	if err != nil {
		return nil, fmt.Errorf("failed to load active items: %w", err)
	}
	if len(items) == 0 {
		util.InfoLog("No items to match")
		return &Result{}, nil
	}

	if err := e.store.ClearGroups(); err != nil {
		return nil, fmt.Errorf("failed to clear groups: %w", err)
	}

	result := &Result{}
	assigned := make(map[int64]bool)

	exactGroups := e.matchExactFingerprint(items)
	for _, g := range exactGroups {
		if err := e.persistGroup(ctx, g, assigned, result); err != nil {
			return nil, err
		}
	}
	result.ExactGroups = len(exactGroups)

	fuzzyGroups := e.matchFuzzyMetadata(remaining(items, assigned))
	for _, g := range fuzzyGroups {
		if err := e.persistGroup(ctx, g, assigned, result); err != nil {
			return nil, err
		}
	}
	result.FuzzyGroups = len(fuzzyGroups)

	ngramGroups := e.matchNgramTokens(remaining(items, assigned))
	for _, g := range ngramGroups {
		if err := e.persistGroup(ctx, g, assigned, result); err != nil {
			return nil, err
		}
	}
	result.NgramGroups = len(ngramGroups)

	result.GroupsCreated = result.ExactGroups + result.FuzzyGroups + result.NgramGroups
	util.SuccessLog("Matching complete: %d groups (%d exact, %d fuzzy, %d ngram), %d conflicting, %d items grouped",
		result.GroupsCreated, result.ExactGroups, result.FuzzyGroups, result.NgramGroups,
		result.ConflictingGroups, result.ItemsGrouped)

	return result, nil
}

func (e *Engine) persistGroup(ctx context.Context, g *catalog.DuplicateGroup, assigned map[int64]bool, result *Result) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	g.SortMembers()
	if err := e.store.InsertGroup(g); err != nil {
		return fmt.Errorf("failed to persist group %s: %w", g.Key, err)
	}

	for _, member := range g.Members {
		assigned[member.ID] = true
	}
	result.ItemsGrouped += len(g.Members)
	if g.Conflicting {
		result.ConflictingGroups++
		if e.logger != nil {
			e.logger.LogConflict(g.Key, "members carry disagreeing fingerprints")
		}
	}
	if e.logger != nil {
		e.logger.LogMatch(g)
	}
	return nil
}

func remaining(items []*catalog.Item, assigned map[int64]bool) []*catalog.Item {
	var rest []*catalog.Item
	for _, it := range items {
		if !assigned[it.ID] {
			rest = append(rest, it)
		}
	}
	return rest
}

// matchExactFingerprint groups items whose fingerprints are equal, and
// additionally merges envelope fingerprints within hamming distance. Two
// items with the same chromaprint value are the same recording; envelope
// hashes tolerate a few flipped bits from transcoding.
func (e *Engine) matchExactFingerprint(items []*catalog.Item) []*catalog.DuplicateGroup {
	byFp := make(map[string][]*catalog.Item)
	for _, it := range items {
		if it.HasFingerprint() {
			byFp[it.Fingerprint] = append(byFp[it.Fingerprint], it)
		}
	}

	fps := make([]string, 0, len(byFp))
	for fp := range byFp {
		fps = append(fps, fp)
	}
	sort.Strings(fps)

	uf := newUnionFind(len(fps))

	// Envelope hashes within hammingMax bits are the same recording at a
	// different bitrate
	type envelope struct {
		idx  int
		hash uint64
	}
	var envelopes []envelope
	for i, fp := range fps {
		kind, value, ok := strings.Cut(fp, ":")
		if !ok || kind != fingerprint.KindEnvelope {
			continue
		}
		hash, err := fingerprint.ParseEnvelope(value)
		if err != nil {
			util.DebugLog("Skipping malformed envelope fingerprint %q: %v", fp, err)
			continue
		}
		envelopes = append(envelopes, envelope{idx: i, hash: hash})
	}
	type link struct {
		idx  int
		dist int
	}
	var links []link
	for i := 0; i < len(envelopes); i++ {
		for j := i + 1; j < len(envelopes); j++ {
			dist := fingerprint.HammingDistance(envelopes[i].hash, envelopes[j].hash)
			if dist <= e.hammingMax {
				uf.union(envelopes[i].idx, envelopes[j].idx)
				links = append(links, link{idx: envelopes[i].idx, dist: dist})
			}
		}
	}

	// Resolve link distances against final roots; roots shift while
	// unions are still in flight
	maxLinkDist := make(map[int]int)
	for _, l := range links {
		root := uf.find(l.idx)
		if l.dist > maxLinkDist[root] {
			maxLinkDist[root] = l.dist
		}
	}

	components := make(map[int][]string)
	for i, fp := range fps {
		root := uf.find(i)
		components[root] = append(components[root], fp)
	}

	var groups []*catalog.DuplicateGroup
	for root, componentFps := range components {
		var members []*catalog.Item
		for _, fp := range componentFps {
			members = append(members, byFp[fp]...)
		}
		if len(members) < 2 {
			continue
		}

		sort.Strings(componentFps)
		confidence := 1.0 - float64(maxLinkDist[root])/64.0

		groups = append(groups, &catalog.DuplicateGroup{
			Key:        "fp:" + componentFps[0],
			Tier:       catalog.TierExactFingerprint,
			Confidence: confidence,
			Hint:       hintFor(members),
			Members:    members,
		})
	}

	sortGroups(groups)
	return groups
}

// matchFuzzyMetadata groups items by token-set similarity on normalized
// titles, blocked by the first significant artist token so "Beatles" and
// "The Beatles" still meet. The similarity threshold, not the block,
// decides membership.
func (e *Engine) matchFuzzyMetadata(items []*catalog.Item) []*catalog.DuplicateGroup {
	blocks := make(map[string][]*catalog.Item)
	for _, it := range items {
		artist := NormalizeArtist(it.Artist)
		title := NormalizeTitle(it.Title)
		if artist == "" || title == "" {
			continue
		}
		block := fuzzyBlockKey(artist)
		blocks[block] = append(blocks[block], it)
	}

	var groups []*catalog.DuplicateGroup
	for blockKey, block := range blocks {
		if len(block) < 2 {
			continue
		}

		sort.Slice(block, func(a, b int) bool { return block[a].Identity < block[b].Identity })

		uf := newUnionFind(len(block))

		titles := make([]string, len(block))
		for i, it := range block {
			titles[i] = NormalizeTitle(it.Title)
		}

		type link struct {
			idx   int
			ratio float64
		}
		var links []link
		for i := 0; i < len(block); i++ {
			for j := i + 1; j < len(block); j++ {
				ratio := TokenSetRatio(titles[i], titles[j])
				if ratio >= e.fuzzyThreshold {
					uf.union(i, j)
					links = append(links, link{idx: i, ratio: ratio})
				}
			}
		}

		minLinkRatio := make(map[int]float64)
		for _, l := range links {
			root := uf.find(l.idx)
			if prev, ok := minLinkRatio[root]; !ok || l.ratio < prev {
				minLinkRatio[root] = l.ratio
			}
		}

		components := make(map[int][]*catalog.Item)
		for i, it := range block {
			root := uf.find(i)
			components[root] = append(components[root], it)
		}

		for root, members := range components {
			if len(members) < 2 {
				continue
			}

			groups = append(groups, &catalog.DuplicateGroup{
				Key:         "meta:" + blockKey + "|" + NormalizeTitle(members[0].Title),
				Tier:        catalog.TierFuzzyMetadata,
				Confidence:  minLinkRatio[root],
				Conflicting: hasFingerprintConflict(members),
				Hint:        hintFor(members),
				Members:     members,
			})
		}
	}

	sortGroups(groups)
	return groups
}

// matchNgramTokens is the last-resort tier for items with thin tags: it
// compares character trigram sets over whatever text an item has, tags or
// file name. Confidence is capped below the fuzzy tier's floor so a
// trigram match never outranks a metadata match.
func (e *Engine) matchNgramTokens(items []*catalog.Item) []*catalog.DuplicateGroup {
	texts := make([]string, len(items))
	grams := make([]map[string]bool, len(items))
	candidates := make([]int, 0, len(items))

	for i, it := range items {
		text := e.matchText(it)
		if text == "" {
			continue
		}
		texts[i] = text
		grams[i] = Ngrams(text, e.ngramSize)
		candidates = append(candidates, i)
	}

	// Inverted index keeps comparisons to pairs sharing at least one
	// trigram
	index := make(map[string][]int)
	for _, i := range candidates {
		for gram := range grams[i] {
			index[gram] = append(index[gram], i)
		}
	}

	pairSeen := make(map[[2]int]bool)
	uf := newUnionFind(len(items))

	type link struct {
		idx int
		sim float64
	}
	var links []link
	for _, postings := range index {
		for a := 0; a < len(postings); a++ {
			for b := a + 1; b < len(postings); b++ {
				i, j := postings[a], postings[b]
				if i > j {
					i, j = j, i
				}
				pair := [2]int{i, j}
				if pairSeen[pair] {
					continue
				}
				pairSeen[pair] = true

				sim := Jaccard(grams[i], grams[j])
				if sim >= e.ngramThreshold {
					uf.union(i, j)
					links = append(links, link{idx: i, sim: sim})
				}
			}
		}
	}

	minLinkSim := make(map[int]float64)
	for _, l := range links {
		root := uf.find(l.idx)
		if prev, ok := minLinkSim[root]; !ok || l.sim < prev {
			minLinkSim[root] = l.sim
		}
	}

	components := make(map[int][]*catalog.Item)
	for _, i := range candidates {
		root := uf.find(i)
		components[root] = append(components[root], items[i])
	}

	confidenceCap := e.fuzzyThreshold - 0.05

	var groups []*catalog.DuplicateGroup
	for root, members := range components {
		if len(members) < 2 {
			continue
		}

		sort.Slice(members, func(a, b int) bool { return members[a].Identity < members[b].Identity })

		confidence := minLinkSim[root]
		if confidence > confidenceCap {
			confidence = confidenceCap
		}

		key := texts[indexOf(items, members[0])]
		if runes := []rune(key); len(runes) > 60 {
			// Cut on a rune boundary; a byte slice can split a
			// multi-byte character
			key = string(runes[:60])
		}

		groups = append(groups, &catalog.DuplicateGroup{
			Key:         "ngram:" + key,
			Tier:        catalog.TierNgramToken,
			Confidence:  confidence,
			Conflicting: hasFingerprintConflict(members),
			Hint:        hintFor(members),
			Members:     members,
		})
	}

	sortGroups(groups)
	return groups
}

// fuzzyBlockKey picks the first artist token that is not an article.
// Blocking exists to bound pairwise comparisons, not to decide matches,
// so a loose key beats missing "Beatles" vs "The Beatles".
func fuzzyBlockKey(artist string) string {
	for _, tok := range strings.Fields(artist) {
		switch tok {
		case "the", "a", "an":
			continue
		}
		return tok
	}
	return artist
}

// matchText is the comparison text for the trigram tier: tags when
// present, otherwise the bare file name.
func (e *Engine) matchText(it *catalog.Item) string {
	if it.Artist != "" || it.Title != "" {
		return Normalize(strings.TrimSpace(it.Artist + " " + it.Title))
	}
	path := it.ResolvedPath
	if path == "" {
		path = it.Identity
	}
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return Normalize(base)
}

// hasFingerprintConflict reports whether members carry more than one
// distinct fingerprint. Such groups are never auto-resolved: the metadata
// says same track, the audio says otherwise.
func hasFingerprintConflict(members []*catalog.Item) bool {
	seen := ""
	for _, it := range members {
		if !it.HasFingerprint() {
			continue
		}
		if seen == "" {
			seen = it.Fingerprint
		} else if it.Fingerprint != seen {
			return true
		}
	}
	return false
}

func hintFor(members []*catalog.Item) string {
	for _, it := range members {
		if it.Artist != "" && it.Title != "" {
			return it.Artist + " - " + it.Title
		}
	}
	for _, it := range members {
		if it.Title != "" {
			return it.Title
		}
	}
	return ""
}

func sortGroups(groups []*catalog.DuplicateGroup) {
	sort.Slice(groups, func(a, b int) bool { return groups[a].Key < groups[b].Key })
}

func indexOf(items []*catalog.Item, target *catalog.Item) int {
	for i, it := range items {
		if it == target {
			return i
		}
	}
	return 0
}

// unionFind is a plain disjoint-set with path compression
type unionFind struct {
	parent []int
}

func newUnionFind(n int) *unionFind {
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	return &unionFind{parent: parent}
}

func (u *unionFind) find(x int) int {
	for u.parent[x] != x {
		u.parent[x] = u.parent[u.parent[x]]
		x = u.parent[x]
	}
	return x
}

// union merges the sets of a and b, returning the new root
func (u *unionFind) union(a, b int) int {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return ra
	}
	if rb < ra {
		ra, rb = rb, ra
	}
	u.parent[rb] = ra
	return ra
}
