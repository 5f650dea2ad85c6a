package logstream

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"strings"
)

// Origin tags which container stream a line came from.
type Origin string

const (
	OriginStdout Origin = "stdout"
	OriginStderr Origin = "stderr"
)

// frame header layout: byte 0 stream tag, bytes 1-3 reserved,
// bytes 4-7 big-endian payload length.
const headerLen = 8

// stdoutTag is the header tag for the primary output stream; every other
// tag value is treated as diagnostic output.
const stdoutTag = 1

// MaxFrameSize bounds a single frame payload. Header lengths past it signal
// a corrupt or hostile stream, not a log line; the declared u32 length would
// otherwise be allocated verbatim, up to 4 GiB.
const MaxFrameSize = 1 << 20

// Line is one decoded log line.
type Line struct {
	Origin Origin
	Text   string
}

// Decoder reads the engine's multiplexed output protocol and yields discrete
// text lines. It buffers across short reads, so frames split over multiple
// underlying read events are reassembled correctly. A Decoder is sequential
// and non-restartable: once Next returns a non-nil error it returns the same
// error forever.
type Decoder struct {
	r   *bufio.Reader
	err error
}

// NewDecoder wraps r. The reader is consumed frame by frame; ownership stays
// with the caller (the Decoder never closes it).
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// Next returns the next non-empty line. Payloads are trimmed of trailing
// whitespace; frames whose payload trims to nothing are skipped. Returns
// io.EOF when the stream ends cleanly on a frame boundary.
func (d *Decoder) Next() (Line, error) {
	if d.err != nil {
		return Line{}, d.err
	}
	for {
		line, err := d.readFrame()
		if err != nil {
			d.err = err
			return Line{}, err
		}
		if line.Text == "" {
			continue
		}
		return line, nil
	}
}

func (d *Decoder) readFrame() (Line, error) {
	var header [headerLen]byte
	if _, err := io.ReadFull(d.r, header[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return Line{}, fmt.Errorf("truncated frame header: %w", err)
		}
		return Line{}, err
	}

	size := binary.BigEndian.Uint32(header[4:8])
	if size > MaxFrameSize {
		return Line{}, fmt.Errorf("frame payload of %d bytes exceeds limit %d", size, MaxFrameSize)
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(d.r, payload); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return Line{}, fmt.Errorf("truncated frame payload (want %d bytes): %w", size, io.ErrUnexpectedEOF)
		}
		return Line{}, err
	}

	origin := OriginStderr
	if header[0] == stdoutTag {
		origin = OriginStdout
	}
	return Line{Origin: origin, Text: strings.TrimRight(string(payload), " \t\r\n")}, nil
}
