package idxsyncd

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// maxLine bounds one request or response line.
const maxLine = 1 << 20

var errLineTooLong = errors.New("line exceeds 1MiB")

// readLine returns the next non-blank line without its newline. A final line
// without a trailing newline is accepted.
func readLine(r *bufio.Reader) ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("reader is nil")
	}
	for {
		var buf []byte
		for {
			chunk, isPrefix, err := r.ReadLine()
			if err != nil {
				if err == io.EOF && len(buf) > 0 {
					break
				}
				return nil, err
			}
			buf = append(buf, chunk...)
			if len(buf) > maxLine {
				return nil, errLineTooLong
			}
			if !isPrefix {
				break
			}
		}
		if line := bytes.TrimSpace(buf); len(line) > 0 {
			return line, nil
		}
	}
}

func writeLine(w *bufio.Writer, v any) error {
	if w == nil {
		return fmt.Errorf("writer is nil")
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.Write(append(b, '\n')); err != nil {
		return err
	}
	return w.Flush()
}
