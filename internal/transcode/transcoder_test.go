package transcode

import (
	"bytes"
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sunqar-kz/qoldau/internal/logging"
)

// writeWAV writes a minimal PCM16 wav file.
func writeWAV(t *testing.T, path string, sampleRate, channels, samples int) {
	t.Helper()

	var pcm bytes.Buffer
	for i := 0; i < samples*channels; i++ {
		binary.Write(&pcm, binary.LittleEndian, int16(i%512))
	}

	var buf bytes.Buffer
	dataLen := uint32(pcm.Len())
	byteRate := uint32(sampleRate * channels * 2)

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, 36+dataLen)
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(channels))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, byteRate)
	binary.Write(&buf, binary.LittleEndian, uint16(channels*2))
	binary.Write(&buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, dataLen)
	buf.Write(pcm.Bytes())

	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
}

// stubTool writes an executable standing in for ffmpeg. Behaviors:
// "copy" copies -i input to the last argument, "fail" exits non-zero,
// "hang" sleeps until killed.
func stubTool(t *testing.T, behavior string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("stub tool requires a POSIX shell")
	}

	var script string
	switch behavior {
	case "copy":
		script = `#!/bin/sh
in=""
prev=""
for a in "$@"; do
  [ "$prev" = "-i" ] && in="$a"
  prev="$a"
  out="$a"
done
cp "$in" "$out"
`
	case "fail":
		script = "#!/bin/sh\necho 'boom' >&2\nexit 1\n"
	case "hang":
		script = "#!/bin/sh\nsleep 30\n"
	}

	path := filepath.Join(t.TempDir(), "fakeffmpeg")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o700))
	return path
}

func testTranscoder(t *testing.T, behavior string, timeout time.Duration) *Transcoder {
	t.Helper()
	log := logging.New(nil, "silent")
	return New(stubTool(t, behavior), t.TempDir(), timeout, log)
}

func TestProbe_WAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.wav")
	writeWAV(t, path, 16000, 1, 160)

	format, err := Probe(path)
	require.NoError(t, err)
	assert.Equal(t, FormatWAV, format)
}

func TestProbe_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.wav")
	require.NoError(t, os.WriteFile(path, []byte("RIFFgarbage-not-a-wav"), 0o600))

	_, err := Probe(path)
	var terr *Error
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, ReasonCorruptInput, terr.Reason)
}

func TestProbe_Unsupported(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.bin")
	require.NoError(t, os.WriteFile(path, []byte{0x00, 0x01, 0x02, 0x03, 0x04}, 0o600))

	_, err := Probe(path)
	var terr *Error
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, ReasonUnsupported, terr.Reason)
}

func TestProbe_TooShort(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.bin")
	require.NoError(t, os.WriteFile(path, []byte{0x52}, 0o600))

	_, err := Probe(path)
	var terr *Error
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, ReasonCorruptInput, terr.Reason)
}

func TestTranscodeFile_Success(t *testing.T) {
	tr := testTranscoder(t, "copy", 0)

	src := filepath.Join(t.TempDir(), "in.wav")
	writeWAV(t, src, 16000, 1, 160)

	out, err := tr.TranscodeFile(context.Background(), src, DefaultParams)
	require.NoError(t, err)
	assert.FileExists(t, out)
	assert.Equal(t, ".wav", filepath.Ext(out))
}

func TestTranscodeFile_Idempotent(t *testing.T) {
	tr := testTranscoder(t, "copy", 0)

	src := filepath.Join(t.TempDir(), "in.wav")
	writeWAV(t, src, 16000, 1, 160)

	out1, err := tr.TranscodeFile(context.Background(), src, DefaultParams)
	require.NoError(t, err)
	out2, err := tr.TranscodeFile(context.Background(), src, DefaultParams)
	require.NoError(t, err)

	b1, err := os.ReadFile(out1)
	require.NoError(t, err)
	b2, err := os.ReadFile(out2)
	require.NoError(t, err)
	assert.Equal(t, b1, b2)
}

func TestTranscodeFile_ToolFailure(t *testing.T) {
	tr := testTranscoder(t, "fail", 0)

	src := filepath.Join(t.TempDir(), "in.wav")
	writeWAV(t, src, 16000, 1, 160)

	_, err := tr.TranscodeFile(context.Background(), src, DefaultParams)
	var terr *Error
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, ReasonToolFailed, terr.Reason)
	assert.Contains(t, terr.Detail, "boom")
}

func TestTranscodeFile_BadOutput(t *testing.T) {
	// The stub copies input to output, so a source with the wrong sample
	// rate surfaces as malformed output after "conversion".
	tr := testTranscoder(t, "copy", 0)

	src := filepath.Join(t.TempDir(), "in.wav")
	writeWAV(t, src, 44100, 2, 160)

	_, err := tr.TranscodeFile(context.Background(), src, DefaultParams)
	var terr *Error
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, ReasonBadOutput, terr.Reason)
}

func TestTranscodeFile_Timeout(t *testing.T) {
	tr := testTranscoder(t, "hang", 100*time.Millisecond)

	src := filepath.Join(t.TempDir(), "in.wav")
	writeWAV(t, src, 16000, 1, 160)

	_, err := tr.TranscodeFile(context.Background(), src, DefaultParams)
	var terr *Error
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, ReasonTimeout, terr.Reason)
}

func TestTranscodeFile_Cancelled(t *testing.T) {
	tr := testTranscoder(t, "hang", 0)

	src := filepath.Join(t.TempDir(), "in.wav")
	writeWAV(t, src, 16000, 1, 160)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := tr.TranscodeFile(ctx, src, DefaultParams)
	var terr *Error
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, ReasonCancelled, terr.Reason)
}

func TestTranscodeFile_CleansUpOnFailure(t *testing.T) {
	log := logging.New(nil, "silent")
	outDir := t.TempDir()
	tr := New(stubTool(t, "fail"), outDir, 0, log)

	src := filepath.Join(t.TempDir(), "in.wav")
	writeWAV(t, src, 16000, 1, 160)

	_, err := tr.TranscodeFile(context.Background(), src, DefaultParams)
	require.Error(t, err)

	entries, err := os.ReadDir(outDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "no partial output may survive a failed conversion")
}

func TestTranscode_Stream(t *testing.T) {
	tr := testTranscoder(t, "copy", 0)

	src := filepath.Join(t.TempDir(), "in.wav")
	writeWAV(t, src, 16000, 1, 160)
	data, err := os.ReadFile(src)
	require.NoError(t, err)

	out, err := tr.Transcode(context.Background(), bytes.NewReader(data), DefaultParams)
	require.NoError(t, err)
	assert.FileExists(t, out)
}
