package transcode

import (
	"io"
	"os"

	"github.com/go-audio/wav"
	mp3 "github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"
)

// Format is a sniffed input container format.
type Format string

const (
	FormatWAV Format = "wav"
	FormatMP3 Format = "mp3"
	FormatOgg Format = "ogg"
)

// Probe sniffs the container of a source file and verifies the stream
// actually decodes, so corrupt or unsupported input is rejected before the
// external tool is spawned. Ogg Opus is left to the tool: only the
// container is checked there.
func Probe(path string) (Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", &Error{Reason: ReasonCorruptInput, Detail: "unreadable input", Err: err}
	}
	defer f.Close()

	magic := make([]byte, 4)
	if _, err := io.ReadFull(f, magic); err != nil {
		return "", errf(ReasonCorruptInput, "input too short")
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", &Error{Reason: ReasonCorruptInput, Err: err}
	}

	switch {
	case string(magic) == "RIFF":
		dec := wav.NewDecoder(f)
		if !dec.IsValidFile() {
			return "", errf(ReasonCorruptInput, "invalid wav stream")
		}
		return FormatWAV, nil

	case string(magic) == "OggS":
		// Vorbis decodes here; Opus in an Ogg container is accepted on
		// the container magic alone.
		if _, err := oggvorbis.NewReader(f); err != nil {
			if _, err := f.Seek(0, io.SeekStart); err != nil {
				return "", &Error{Reason: ReasonCorruptInput, Err: err}
			}
		}
		return FormatOgg, nil

	case string(magic[:3]) == "ID3" || (magic[0] == 0xFF && magic[1]&0xE0 == 0xE0):
		if _, err := mp3.NewDecoder(f); err != nil {
			return "", &Error{Reason: ReasonCorruptInput, Detail: "invalid mp3 stream", Err: err}
		}
		return FormatMP3, nil

	default:
		return "", errf(ReasonUnsupported, "unrecognized container (magic % x)", magic)
	}
}

// validateWAV decodes a produced WAV file and checks it matches the
// requested parameters. Anything the decoder rejects is malformed output.
func validateWAV(path string, p Params) error {
	f, err := os.Open(path)
	if err != nil {
		return &Error{Reason: ReasonBadOutput, Detail: "output missing", Err: err}
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return errf(ReasonBadOutput, "output is not a valid wav")
	}
	dec.ReadInfo()
	if int(dec.SampleRate) != p.SampleRate {
		return errf(ReasonBadOutput, "sample rate %d, want %d", dec.SampleRate, p.SampleRate)
	}
	if int(dec.NumChans) != p.Channels {
		return errf(ReasonBadOutput, "channel count %d, want %d", dec.NumChans, p.Channels)
	}
	return nil
}
