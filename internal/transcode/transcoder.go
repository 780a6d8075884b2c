package transcode

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sunqar-kz/qoldau/internal/logging"
)

// Params are the target format parameters for a conversion.
type Params struct {
	SampleRate int
	Channels   int
	Container  string // "wav" is the only container validated end to end
}

// DefaultParams is the normalized voice-note format: 16 kHz mono WAV.
var DefaultParams = Params{SampleRate: 16000, Channels: 1, Container: "wav"}

// Transcoder converts inbound audio to a normalized format by invoking an
// external media executable.
type Transcoder struct {
	bin     string
	outDir  string
	timeout time.Duration
	log     *logging.Logger
}

// New creates a transcoder. bin defaults to "ffmpeg"; outDir is where
// normalized files are kept (created on demand); timeout bounds a single
// conversion (0 means no bound beyond the caller's context).
func New(bin, outDir string, timeout time.Duration, log *logging.Logger) *Transcoder {
	if bin == "" {
		bin = "ffmpeg"
	}
	return &Transcoder{bin: bin, outDir: outDir, timeout: timeout, log: log.Sub("transcode")}
}

// Transcode normalizes a source byte stream. The stream is spooled to a
// temp file which is removed on every exit path; the normalized output
// lands in the transcoder's output directory and its path is returned.
func (t *Transcoder) Transcode(ctx context.Context, src io.Reader, p Params) (string, error) {
	tmp, err := os.CreateTemp("", "qoldau-in-*")
	if err != nil {
		return "", fmt.Errorf("spooling input: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		return "", &Error{Reason: ReasonCorruptInput, Detail: "reading input stream", Err: err}
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("spooling input: %w", err)
	}

	return t.TranscodeFile(ctx, tmp.Name(), p)
}

// TranscodeFile normalizes a source file already on disk. On failure the
// partial output is removed; on success the caller owns the returned file.
func (t *Transcoder) TranscodeFile(ctx context.Context, srcPath string, p Params) (string, error) {
	if p.SampleRate == 0 {
		p = DefaultParams
	}

	format, err := Probe(srcPath)
	if err != nil {
		return "", err
	}

	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	if err := os.MkdirAll(t.outDir, 0o700); err != nil {
		return "", fmt.Errorf("creating output directory: %w", err)
	}
	outPath := filepath.Join(t.outDir, uuid.New().String()+"."+p.Container)

	// bitexact stripping keeps repeated conversions of the same input
	// byte-identical (no encoder timestamps in the output header).
	args := []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-i", srcPath,
		"-ac", strconv.Itoa(p.Channels),
		"-ar", strconv.Itoa(p.SampleRate),
		"-map_metadata", "-1",
		"-fflags", "+bitexact",
		"-flags:a", "+bitexact",
		outPath,
	}

	start := time.Now()
	cmd := exec.CommandContext(ctx, t.bin, args...)
	var stderr strings.Builder
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if runErr != nil {
		os.Remove(outPath)
		switch {
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			return "", errf(ReasonTimeout, "conversion exceeded %s", t.timeout)
		case errors.Is(ctx.Err(), context.Canceled):
			return "", &Error{Reason: ReasonCancelled, Err: ctx.Err()}
		default:
			return "", &Error{
				Reason: ReasonToolFailed,
				Detail: strings.TrimSpace(stderr.String()),
				Err:    runErr,
			}
		}
	}

	if p.Container == "wav" {
		if err := validateWAV(outPath, p); err != nil {
			os.Remove(outPath)
			return "", err
		}
	}

	t.log.Debug().
		Str("format", string(format)).
		Str("out", filepath.Base(outPath)).
		Dur("duration", time.Since(start)).
		Msg("transcode complete")

	return outPath, nil
}
