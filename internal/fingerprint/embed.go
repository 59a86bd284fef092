package fingerprint

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dhowden/tag"

	"github.com/franz/library-dedup/internal/util"
)

// EmbedFingerprint writes the fingerprint into the file's private tag via
// ffmpeg stream copy. The write goes to a temp file first; the original is
// only replaced after ffmpeg exits cleanly, so a crash never leaves a
// half-written file at the original path.
func (c *Codec) EmbedFingerprint(ctx context.Context, path string, result Result) error {
	if result.Skipped || result.Value == "" {
		return nil
	}
	if !c.runner.Available("ffmpeg") {
		return fmt.Errorf("ffmpeg not available for tag embedding: %w", util.ErrNotFound)
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("file does not exist: %w", err)
	}

	// ffmpeg picks the output muxer from the file name, so the temp file
	// keeps the source extension
	tempPath := path + ".fptmp" + filepath.Ext(path)
	_, err := c.runner.Run(ctx, "ffmpeg",
		"-i", path,
		"-metadata", fmt.Sprintf("%s=%s", TagKey, GroupKey(result.Kind, result.Value)),
		"-c", "copy",
		"-y",
		tempPath,
	)
	if err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("tag embed failed: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace tagged file: %w", err)
	}
	return nil
}

// ExtractFingerprint reads an embedded fingerprint back out of a file.
// Returns an empty result when the tag is absent.
func (c *Codec) ExtractFingerprint(ctx context.Context, path string) (Result, error) {
	if value, ok := extractViaTagLib(path); ok {
		return splitEmbedded(value)
	}

	// Some containers (notably WAV) are not readable by the tag library;
	// fall back to ffprobe's format tags.
	if c.runner.Available("ffprobe") {
		value, ok, err := c.extractViaFFprobe(ctx, path)
		if err != nil {
			return Result{}, err
		}
		if ok {
			return splitEmbedded(value)
		}
	}

	return Result{}, nil
}

func extractViaTagLib(path string) (string, bool) {
	file, err := os.Open(path)
	if err != nil {
		return "", false
	}
	defer file.Close()

	m, err := tag.ReadFrom(file)
	if err != nil {
		return "", false
	}

	// The key's exact spelling varies by container: vorbis comments keep
	// it verbatim, id3v2 wraps it in a TXXX frame.
	for key, raw := range m.Raw() {
		if !strings.Contains(strings.ToUpper(key), TagKey) {
			continue
		}
		switch v := raw.(type) {
		case string:
			return strings.TrimSpace(v), true
		case *tag.Comm:
			return strings.TrimSpace(v.Text), true
		}
	}
	return "", false
}

func (c *Codec) extractViaFFprobe(ctx context.Context, path string) (string, bool, error) {
	output, err := c.runner.Run(ctx, "ffprobe",
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		path,
	)
	if err != nil {
		return "", false, fmt.Errorf("ffprobe failed for %s: %w", path, err)
	}

	var info struct {
		Format struct {
			Tags map[string]string `json:"tags"`
		} `json:"format"`
	}
	if err := json.Unmarshal(output, &info); err != nil {
		return "", false, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	for key, value := range info.Format.Tags {
		if strings.EqualFold(key, TagKey) {
			return strings.TrimSpace(value), true, nil
		}
	}
	return "", false, nil
}

// splitEmbedded parses a stored "kind:value" tag payload. Legacy values
// without a kind prefix are treated as chromaprint.
func splitEmbedded(stored string) (Result, error) {
	if stored == "" {
		return Result{}, nil
	}
	kind, value, found := strings.Cut(stored, ":")
	if !found {
		return Result{Value: stored, Kind: KindChromaprint}, nil
	}
	switch kind {
	case KindChromaprint, KindEnvelope:
		return Result{Value: value, Kind: kind}, nil
	}
	return Result{}, fmt.Errorf("unknown embedded fingerprint kind %q", kind)
}
