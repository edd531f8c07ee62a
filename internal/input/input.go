// Package input parses "<key> <url>" records from a line-oriented stream.
package input

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode"
)

// DefaultMaxLineBytes bounds a single input line when no limit is configured.
const DefaultMaxLineBytes = 1024 * 1024

// Record is one (key, URL) pair taken from an input line.
type Record struct {
	Key string
	URL string
	// Line is the 1-based line number in the input stream.
	Line int
}

// ParseLine splits a line into key and URL on the first run of whitespace.
// The URL is the trimmed remainder and may itself contain spaces. It reports
// false for blank lines and lines with a single token.
func ParseLine(line string) (Record, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Record{}, false
	}
	idx := strings.IndexFunc(line, unicode.IsSpace)
	if idx < 0 {
		return Record{}, false
	}
	key := line[:idx]
	url := strings.TrimSpace(line[idx:])
	if url == "" {
		return Record{}, false
	}
	return Record{Key: key, URL: url}, true
}

// Reader yields records from an io.Reader, skipping lines that do not parse.
// Lines longer than the configured limit are discarded and counted as
// skipped; reading resumes at the next line.
type Reader struct {
	br           *bufio.Reader
	maxLineBytes int
	line         int
	skipped      int
	oversized    int
	current      Record
	err          error
}

// NewReader wraps r. maxLineBytes <= 0 selects DefaultMaxLineBytes.
func NewReader(r io.Reader, maxLineBytes int) *Reader {
	if maxLineBytes <= 0 {
		maxLineBytes = DefaultMaxLineBytes
	}
	size := 64 * 1024
	if size > maxLineBytes {
		size = maxLineBytes
	}
	return &Reader{
		br:           bufio.NewReaderSize(r, size),
		maxLineBytes: maxLineBytes,
	}
}

// Next advances to the next well-formed record. It returns false at end of
// input or on a read error; check Err afterwards.
func (r *Reader) Next() bool {
	for {
		line, tooLong, err := r.readLine()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				r.err = err
			}
			return false
		}
		r.line++
		if tooLong {
			r.skipped++
			r.oversized++
			continue
		}
		rec, ok := ParseLine(string(line))
		if !ok {
			r.skipped++
			continue
		}
		rec.Line = r.line
		r.current = rec
		return true
	}
}

// readLine returns the next line without its terminator. When the line
// exceeds maxLineBytes the remainder is drained and tooLong is set.
func (r *Reader) readLine() (line []byte, tooLong bool, err error) {
	read := false
	for {
		chunk, isPrefix, err := r.br.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) && read {
				return line, tooLong, nil
			}
			return nil, false, err
		}
		read = true
		if !tooLong {
			if len(line)+len(chunk) > r.maxLineBytes {
				tooLong = true
				line = nil
			} else {
				line = append(line, chunk...)
			}
		}
		if !isPrefix {
			return line, tooLong, nil
		}
	}
}

// Record returns the record produced by the last successful Next.
func (r *Reader) Record() Record {
	return r.current
}

// Lines returns how many lines have been consumed so far.
func (r *Reader) Lines() int {
	return r.line
}

// Skipped returns how many consumed lines did not yield a record, including
// over-long ones.
func (r *Reader) Skipped() int {
	return r.skipped
}

// Oversized returns how many lines were skipped for exceeding the line limit.
func (r *Reader) Oversized() int {
	return r.oversized
}

// Err returns the first non-EOF read error.
func (r *Reader) Err() error {
	if r.err != nil {
		return fmt.Errorf("read input line %d: %w", r.line+1, r.err)
	}
	return nil
}
