package fingerprint

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/bits"
	"os/exec"
	"strconv"
	"strings"

	"github.com/franz/library-dedup/internal/catalog"
	"github.com/franz/library-dedup/internal/util"
)

// TagKey is the private tag under which fingerprints are embedded in files.
const TagKey = "LIBDEDUP_FINGERPRINT"

// Fingerprint kinds. Chromaprint values come from fpcalc; envelope values
// are the built-in fallback hash. Values of different kinds never compare
// equal.
const (
	KindChromaprint = "chromaprint"
	KindEnvelope    = "envelope"
)

// envelope decode parameters: mono 16-bit PCM at a low sample rate is
// plenty for a coarse energy profile and keeps decode time down
const (
	envelopeSampleRate = 11025
	envelopeWindows    = 64
)

// Runner executes external tools. The indirection exists so the codec can
// be tested without ffmpeg or fpcalc installed.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
	Available(name string) bool
}

// ExecRunner runs tools from PATH
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	output, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return nil, fmt.Errorf("%s failed: %s", name, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return nil, fmt.Errorf("%s execution failed: %w", name, err)
	}
	return output, nil
}

func (ExecRunner) Available(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

// Result is the outcome of a fingerprint computation. Skipped means the
// file's format is not fingerprintable; that is a normal outcome, not an
// error.
type Result struct {
	Value   string
	Kind    string
	Skipped bool
}

// Codec computes audio fingerprints by shelling out to fpcalc when
// available and falling back to an energy-envelope hash over
// ffmpeg-decoded PCM.
type Codec struct {
	runner Runner
}

// NewCodec creates a codec using the given runner, or the real ExecRunner
// when nil.
func NewCodec(runner Runner) *Codec {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Codec{runner: runner}
}

// Supported reports whether a path's format can be fingerprinted
func Supported(path string) bool {
	return catalog.FormatFromPath(path) != catalog.FormatOther
}

// Compute fingerprints one audio file. Unsupported formats return a
// skipped result; decode failures and missing tools return errors.
func (c *Codec) Compute(ctx context.Context, path string) (Result, error) {
	if !Supported(path) {
		return Result{Skipped: true}, nil
	}

	if c.runner.Available("fpcalc") {
		return c.computeChromaprint(ctx, path)
	}
	if c.runner.Available("ffmpeg") {
		return c.computeEnvelope(ctx, path)
	}
	return Result{}, fmt.Errorf("no fingerprint tool available (need fpcalc or ffmpeg): %w", util.ErrNotFound)
}

func (c *Codec) computeChromaprint(ctx context.Context, path string) (Result, error) {
	output, err := c.runner.Run(ctx, "fpcalc", "-plain", path)
	if err != nil {
		return Result{}, fmt.Errorf("chromaprint failed for %s: %w", path, err)
	}

	value := strings.TrimSpace(string(output))
	if value == "" {
		return Result{}, fmt.Errorf("chromaprint produced no fingerprint for %s", path)
	}
	return Result{Value: value, Kind: KindChromaprint}, nil
}

func (c *Codec) computeEnvelope(ctx context.Context, path string) (Result, error) {
	pcm, err := c.runner.Run(ctx, "ffmpeg",
		"-v", "quiet",
		"-i", path,
		"-f", "s16le",
		"-ac", "1",
		"-ar", strconv.Itoa(envelopeSampleRate),
		"-",
	)
	if err != nil {
		return Result{}, fmt.Errorf("pcm decode failed for %s: %w", path, err)
	}
	if len(pcm) < envelopeWindows*2 {
		return Result{}, fmt.Errorf("decoded audio too short for %s", path)
	}

	hash := EnvelopeHash(pcm)
	return Result{Value: fmt.Sprintf("%016x", hash), Kind: KindEnvelope}, nil
}

// EnvelopeHash reduces raw little-endian 16-bit mono PCM to a 64-bit
// energy profile: one bit per time window, set when the window's mean
// energy exceeds the track-wide mean. Tracks that are the same recording
// at different bitrates land within a few bits of each other.
func EnvelopeHash(pcm []byte) uint64 {
	samples := len(pcm) / 2
	windowSize := samples / envelopeWindows
	if windowSize == 0 {
		windowSize = 1
	}

	var energies [envelopeWindows]float64
	var total float64
	for w := 0; w < envelopeWindows; w++ {
		start := w * windowSize
		end := start + windowSize
		if end > samples {
			end = samples
		}
		var sum float64
		for i := start; i < end; i++ {
			s := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
			v := float64(s)
			if v < 0 {
				v = -v
			}
			sum += v
		}
		if end > start {
			energies[w] = sum / float64(end-start)
		}
		total += energies[w]
	}

	mean := total / envelopeWindows
	var hash uint64
	for w := 0; w < envelopeWindows; w++ {
		if energies[w] > mean {
			hash |= 1 << uint(w)
		}
	}
	return hash
}

// HammingDistance counts differing bits between two envelope hashes
func HammingDistance(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}

// ParseEnvelope parses a hex envelope fingerprint value
func ParseEnvelope(value string) (uint64, error) {
	h, err := strconv.ParseUint(value, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid envelope fingerprint %q: %w", value, err)
	}
	return h, nil
}

// GroupKey builds the canonical fingerprint key used for grouping.
// The kind prefix keeps chromaprint and envelope values from ever
// colliding.
func GroupKey(kind, value string) string {
	return kind + ":" + value
}
