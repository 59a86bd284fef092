package report

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/franz/library-dedup/internal/catalog"
	"github.com/franz/library-dedup/internal/store"
)

// ExecutionSummary is the outcome of one execute run over archive units.
// Every attempted unit lands in exactly one of the first four buckets;
// conflicts are counted per skipped group, not per unit.
type ExecutionSummary struct {
	UnitsAttempted             int
	Succeeded                  int
	Skipped                    int
	FailedRecoverableExhausted int
	FailedTerminal             int
	Conflicts                  int
	BytesFreed                 int64
}

// Consistent reports whether the four outcome buckets add up to the number
// of attempted units.
func (s *ExecutionSummary) Consistent() bool {
	return s.Succeeded+s.Skipped+s.FailedRecoverableExhausted+s.FailedTerminal == s.UnitsAttempted
}

// Failed reports whether the run should exit non-zero
func (s *ExecutionSummary) Failed() bool {
	return s.FailedTerminal > 0
}

// SummaryReport represents a complete summary report
type SummaryReport struct {
	GeneratedAt time.Time

	// Catalog statistics
	ItemsByStore       map[catalog.Store]int
	ItemsActive        int
	ItemsFingerprinted int

	// Matching statistics
	GroupsTotal       int
	DuplicateGroups   int
	ConflictingGroups int

	// Planning statistics
	KeepPlanned    int
	ArchivePlanned int

	// Execution statistics
	Execution ExecutionSummary

	// Details
	DuplicateSets []DuplicateSet
	TopErrors     []ErrorSummary

	// Metadata
	DatabasePath string
	EventLogPath string
	Mode         string
}

// ErrorSummary represents an error with its count
type ErrorSummary struct {
	Error string
	Count int
}

// DuplicateSet represents one duplicate group with keeper details
type DuplicateSet struct {
	GroupKey   string
	Tier       string
	Confidence float64
	Hint       string
	Keep       DuplicateMember
	Archive    []DuplicateMember
}

// DuplicateMember represents an item in a duplicate set
type DuplicateMember struct {
	Store     string
	Path      string
	Format    string
	SizeBytes int64
}

// FingerprintCoverage returns the fraction of active items carrying a
// fingerprint, 0 when the catalog is empty.
func (r *SummaryReport) FingerprintCoverage() float64 {
	if r.ItemsActive == 0 {
		return 0
	}
	return float64(r.ItemsFingerprinted) / float64(r.ItemsActive)
}

// GenerateSummaryReport creates a summary report from the state database
func GenerateSummaryReport(db *store.Store, eventLogPath string) (*SummaryReport, error) {
	report := &SummaryReport{
		GeneratedAt:  time.Now(),
		EventLogPath: eventLogPath,
	}

	var err error
	report.ItemsByStore, err = db.CountItemsByStore()
	if err != nil {
		return nil, err
	}
	report.ItemsActive, err = db.CountItems()
	if err != nil {
		return nil, err
	}
	report.ItemsFingerprinted, err = db.CountFingerprintedItems()
	if err != nil {
		return nil, err
	}

	report.GroupsTotal, report.DuplicateGroups, report.ConflictingGroups, err = db.CountGroups()
	if err != nil {
		return nil, err
	}

	report.KeepPlanned, report.ArchivePlanned, err = db.CountPlans()
	if err != nil {
		return nil, err
	}

	report.DuplicateSets = gatherDuplicateSets(db, 20)
	report.TopErrors = gatherTopErrors(db, 10)

	return report, nil
}

// gatherDuplicateSets retrieves planned duplicate groups with details
func gatherDuplicateSets(db *store.Store, limit int) []DuplicateSet {
	groups, err := db.GetDuplicateGroups("", 0)
	if err != nil {
		return nil
	}

	sets := make([]DuplicateSet, 0)
	for _, group := range groups {
		plan, err := db.GetPlan(group.Key)
		if err != nil || plan == nil || plan.Keep == nil {
			continue
		}

		set := DuplicateSet{
			GroupKey:   group.Key,
			Tier:       string(group.Tier),
			Confidence: group.Confidence,
			Hint:       group.Hint,
			Keep:       toMember(plan.Keep),
		}
		for _, it := range plan.Archive {
			set.Archive = append(set.Archive, toMember(it))
		}
		sets = append(sets, set)
	}

	// Most duplicates first
	sort.Slice(sets, func(i, j int) bool {
		return len(sets[i].Archive) > len(sets[j].Archive)
	})

	if len(sets) > limit {
		sets = sets[:limit]
	}
	return sets
}

func toMember(it *catalog.Item) DuplicateMember {
	path := it.ResolvedPath
	if path == "" {
		path = it.Identity
	}
	return DuplicateMember{
		Store:     string(it.Store),
		Path:      path,
		Format:    string(it.Format),
		SizeBytes: it.SizeBytes,
	}
}

// gatherTopErrors retrieves the most common item errors
func gatherTopErrors(db *store.Store, limit int) []ErrorSummary {
	items, err := db.GetActiveItems()
	if err != nil {
		return nil
	}

	errorCounts := make(map[string]int)
	for _, it := range items {
		if it.Status == catalog.StatusError && it.Error != "" {
			errorCounts[it.Error]++
		}
	}

	errors := make([]ErrorSummary, 0, len(errorCounts))
	for msg, count := range errorCounts {
		errors = append(errors, ErrorSummary{Error: msg, Count: count})
	}

	sort.Slice(errors, func(i, j int) bool {
		if errors[i].Count != errors[j].Count {
			return errors[i].Count > errors[j].Count
		}
		return errors[i].Error < errors[j].Error
	})

	if len(errors) > limit {
		errors = errors[:limit]
	}
	return errors
}

// WriteMarkdownReport writes the summary report as Markdown
func WriteMarkdownReport(report *SummaryReport, outputPath string) error {
	dir := filepath.Dir(outputPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	var md strings.Builder

	md.WriteString("# Library Dedup - Summary Report\n\n")
	md.WriteString(fmt.Sprintf("**Generated:** %s\n\n", report.GeneratedAt.Format("2006-01-02 15:04:05")))

	if report.DatabasePath != "" {
		md.WriteString(fmt.Sprintf("**Database:** `%s`\n\n", report.DatabasePath))
	}
	if report.EventLogPath != "" {
		md.WriteString(fmt.Sprintf("**Event Log:** `%s`\n\n", report.EventLogPath))
	}
	if report.Mode != "" {
		md.WriteString(fmt.Sprintf("**Mode:** %s\n\n", report.Mode))
	}

	md.WriteString("---\n\n")

	md.WriteString("## Catalog\n\n")
	md.WriteString("| Metric | Value |\n")
	md.WriteString("|--------|-------|\n")
	for _, s := range catalog.AllStores() {
		md.WriteString(fmt.Sprintf("| Items (%s) | %d |\n", s, report.ItemsByStore[s]))
	}
	md.WriteString(fmt.Sprintf("| Active Items | %d |\n", report.ItemsActive))
	md.WriteString(fmt.Sprintf("| Fingerprinted | %d (%.1f%%) |\n",
		report.ItemsFingerprinted, report.FingerprintCoverage()*100))
	md.WriteString("\n")

	if report.GroupsTotal > 0 {
		md.WriteString("## Matching\n\n")
		md.WriteString("| Metric | Value |\n")
		md.WriteString("|--------|-------|\n")
		md.WriteString(fmt.Sprintf("| Total Groups | %d |\n", report.GroupsTotal))
		md.WriteString(fmt.Sprintf("| Duplicate Groups | %d |\n", report.DuplicateGroups))
		if report.ConflictingGroups > 0 {
			md.WriteString(fmt.Sprintf("| Conflicting Groups | %d |\n", report.ConflictingGroups))
		}
		md.WriteString("\n")
	}

	if report.KeepPlanned > 0 || report.ArchivePlanned > 0 {
		md.WriteString("## Planning\n\n")
		md.WriteString("| Metric | Value |\n")
		md.WriteString("|--------|-------|\n")
		md.WriteString(fmt.Sprintf("| Keepers Selected | %d |\n", report.KeepPlanned))
		md.WriteString(fmt.Sprintf("| Archives Planned | %d |\n", report.ArchivePlanned))
		md.WriteString("\n")
	}

	if report.Execution.UnitsAttempted > 0 {
		md.WriteString("## Execution\n\n")
		md.WriteString("| Metric | Value |\n")
		md.WriteString("|--------|-------|\n")
		md.WriteString(fmt.Sprintf("| Units Attempted | %d |\n", report.Execution.UnitsAttempted))
		md.WriteString(fmt.Sprintf("| Succeeded | %d |\n", report.Execution.Succeeded))
		md.WriteString(fmt.Sprintf("| Skipped | %d |\n", report.Execution.Skipped))
		if report.Execution.FailedRecoverableExhausted > 0 {
			md.WriteString(fmt.Sprintf("| Failed (retries exhausted) | %d |\n", report.Execution.FailedRecoverableExhausted))
		}
		if report.Execution.FailedTerminal > 0 {
			md.WriteString(fmt.Sprintf("| Failed (terminal) | %d |\n", report.Execution.FailedTerminal))
		}
		if report.Execution.Conflicts > 0 {
			md.WriteString(fmt.Sprintf("| Conflicts | %d |\n", report.Execution.Conflicts))
		}
		md.WriteString(fmt.Sprintf("| Space Freed | %s |\n", humanize.Bytes(uint64(report.Execution.BytesFreed))))
		md.WriteString("\n")
	}

	if len(report.DuplicateSets) > 0 {
		md.WriteString("## Duplicate Groups (Top 20)\n\n")
		md.WriteString("*Showing groups with the most duplicates*\n\n")

		for i, set := range report.DuplicateSets {
			title := set.Hint
			if title == "" {
				title = "Group " + shortKey(set.GroupKey)
			}
			md.WriteString(fmt.Sprintf("### %d. %s\n\n", i+1, title))
			md.WriteString(fmt.Sprintf("**Tier:** %s | **Confidence:** %.2f | **Copies:** %d duplicates + 1 keeper\n\n",
				set.Tier, set.Confidence, len(set.Archive)))

			md.WriteString("**Kept:**\n")
			md.WriteString(fmt.Sprintf("- **Store:** %s | **Format:** %s | **Size:** %s\n",
				set.Keep.Store, set.Keep.Format, humanize.Bytes(uint64(set.Keep.SizeBytes))))
			md.WriteString(fmt.Sprintf("- **Path:** `%s`\n\n", truncatePath(set.Keep.Path, 80)))

			if len(set.Archive) > 0 {
				md.WriteString("**Archived:**\n\n")
				for j, member := range set.Archive {
					md.WriteString(fmt.Sprintf("%d. %s | %s | %s\n", j+1,
						member.Store, member.Format, humanize.Bytes(uint64(member.SizeBytes))))
					md.WriteString(fmt.Sprintf("   - `%s`\n", truncatePath(member.Path, 80)))
				}
				md.WriteString("\n")
			}
		}
	}

	if len(report.TopErrors) > 0 {
		md.WriteString("## Top Errors\n\n")
		md.WriteString("| Count | Error |\n")
		md.WriteString("|-------|-------|\n")
		for _, err := range report.TopErrors {
			md.WriteString(fmt.Sprintf("| %d | %s |\n", err.Count, err.Error))
		}
		md.WriteString("\n")
	}

	md.WriteString("---\n\n")
	md.WriteString("*Generated by MLD - Music Library Dedup*\n")

	if err := os.WriteFile(outputPath, []byte(md.String()), 0644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	return nil
}

func shortKey(key string) string {
	if len(key) <= 12 {
		return key
	}
	return key[:12]
}

// truncatePath truncates a file path to a maximum length
func truncatePath(path string, maxLen int) string {
	if len(path) <= maxLen {
		return path
	}
	// Truncate from the middle, keeping start and end
	start := maxLen/2 - 2
	end := len(path) - (maxLen/2 - 2)
	return path[:start] + "..." + path[end:]
}
