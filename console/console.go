// Package console implements the interactive terminal side of a server
// console attach: escape-character handling and the bidirectional relay
// between the local terminal and a remote console stream.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
)

// DefaultEscapeChar is ctrl+].
const DefaultEscapeChar = 0x1D

// escapeState tracks the two-state escape detection machine.
type escapeState int

const (
	stateNormal  escapeState = iota
	stateEscaped             // escape char received, waiting for command char
)

// ParseEscapeChar parses an escape character spec: a single character, or
// caret notation like "^]".
func ParseEscapeChar(s string) (byte, error) {
	switch {
	case s == "":
		return DefaultEscapeChar, nil
	case len(s) == 1:
		return s[0], nil
	case len(s) == 2 && s[0] == '^':
		c := s[1]
		if c < '@' || c > '_' {
			return 0, fmt.Errorf("invalid caret notation %q", s)
		}
		return c - '@', nil
	default:
		return 0, fmt.Errorf("invalid escape character %q", s)
	}
}

// FormatEscapeChar renders an escape character for display, control
// characters in caret notation.
func FormatEscapeChar(c byte) string {
	if c < 0x20 {
		return fmt.Sprintf("^%c", c+'@')
	}
	return string(c)
}

// Relay runs bidirectional I/O between the local terminal and rw until the
// remote closes, ctx is cancelled, or the user types the escape sequence.
func Relay(ctx context.Context, rw io.ReadWriter, escapeChar byte) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2) //nolint:mnd

	// remote → stdout
	go func() {
		_, err := io.Copy(os.Stdout, rw)
		errCh <- err
		cancel()
	}()

	// stdin → remote, with escape detection
	go func() {
		errCh <- relayStdin(ctx, os.Stdin, rw, escapeChar)
		cancel()
	}()

	err := <-errCh
	if err == nil || errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func relayStdin(ctx context.Context, stdin io.Reader, remote io.Writer, escapeChar byte) error {
	state := stateNormal
	buf := make([]byte, 1)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		n, err := stdin.Read(buf)
		if n == 0 || err != nil {
			return err
		}
		b := buf[0]

		switch state {
		case stateNormal:
			if b == escapeChar {
				state = stateEscaped
				continue
			}
			if _, werr := remote.Write(buf[:1]); werr != nil {
				return werr
			}

		case stateEscaped:
			state = stateNormal
			switch b {
			case '.':
				return nil // disconnect
			case '?':
				helpMsg := "\r\nSupported escape sequences:\r\n" +
					"  " + FormatEscapeChar(escapeChar) + ".  Disconnect\r\n" +
					"  " + FormatEscapeChar(escapeChar) + "?  This help\r\n" +
					"  " + FormatEscapeChar(escapeChar) + FormatEscapeChar(escapeChar) + " Send " + FormatEscapeChar(escapeChar) + "\r\n"
				_, _ = os.Stdout.Write([]byte(helpMsg))
			case escapeChar:
				if _, werr := remote.Write([]byte{escapeChar}); werr != nil {
					return werr
				}
			default:
				// Unrecognized: forward both bytes.
				if _, werr := remote.Write([]byte{escapeChar, b}); werr != nil {
					return werr
				}
			}
		}
	}
}
