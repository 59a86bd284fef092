package catalog

import (
	"path/filepath"
	"strings"
	"time"
)

// Store identifies one of the three systems of record.
type Store string

const (
	StoreFilesystem     Store = "filesystem"
	StoreLibraryManager Store = "librarymanager"
	StoreMetadata       Store = "metastore"
)

var allStores = []Store{StoreFilesystem, StoreLibraryManager, StoreMetadata}

// AllStores returns the ordered list of known stores.
func AllStores() []Store {
	cp := make([]Store, len(allStores))
	copy(cp, allStores)
	return cp
}

// ParseStore converts a string into a known Store.
func ParseStore(value string) (Store, bool) {
	normalized := Store(strings.ToLower(strings.TrimSpace(value)))
	switch normalized {
	case StoreFilesystem, StoreLibraryManager, StoreMetadata:
		return normalized, true
	}
	return "", false
}

// Format is the audio container format of an item.
type Format string

const (
	FormatWAV   Format = "wav"
	FormatAIFF  Format = "aiff"
	FormatFLAC  Format = "flac"
	FormatM4A   Format = "m4a"
	FormatMP3   Format = "mp3"
	FormatOther Format = "other"
)

// FormatFromPath derives the format from a file extension.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		return FormatWAV
	case ".aiff", ".aif":
		return FormatAIFF
	case ".flac":
		return FormatFLAC
	case ".m4a", ".mp4", ".aac":
		return FormatM4A
	case ".mp3":
		return FormatMP3
	default:
		return FormatOther
	}
}

// Rank orders formats by quality preference for keeper selection.
// WAV > AIFF = FLAC > M4A > MP3 > other.
func (f Format) Rank() int {
	switch f {
	case FormatWAV:
		return 5
	case FormatAIFF, FormatFLAC:
		return 4
	case FormatM4A:
		return 3
	case FormatMP3:
		return 2
	default:
		return 1
	}
}

// Item lifecycle statuses.
const (
	StatusDiscovered    = "discovered"
	StatusFingerprinted = "fingerprinted"
	StatusSkipped       = "skipped"
	StatusArchived      = "archived"
	StatusDeleted       = "deleted"
	StatusError         = "error"
)

// Item is one logical audio asset as seen from a specific store.
// Identity is the path (filesystem) or store-native id; unique per store,
// not globally unique across stores.
type Item struct {
	ID              int64
	Store           Store
	Identity        string
	ResolvedPath    string
	Fingerprint     string
	FingerprintKind string
	Format          Format
	Title           string
	Artist          string
	Album           string
	BPM             string
	Key             string
	SizeBytes       int64
	MtimeUnix       int64
	Status          string
	Error           string
	FirstSeenAt     time.Time
	LastUpdate      time.Time
}

// HasFingerprint reports whether a fingerprint has been computed or read.
func (i *Item) HasFingerprint() bool {
	return i.Fingerprint != ""
}

// MetadataFields counts non-empty known tag fields, the completeness
// signal used by keeper selection.
func (i *Item) MetadataFields() int {
	n := 0
	for _, v := range []string{i.Title, i.Artist, i.Album, i.BPM, i.Key} {
		if v != "" {
			n++
		}
	}
	return n
}

// LockKey is the per-item lock and dedup key across stores.
func (i *Item) LockKey() string {
	return string(i.Store) + "|" + i.Identity
}
