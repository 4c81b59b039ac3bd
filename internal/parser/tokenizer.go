package parser

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ErrMalformedPair is returned for a pair whose group code is not an integer.
var ErrMalformedPair = errors.New("malformed group code")

// Pair is one group-code/value pair of a DXF stream.
type Pair struct {
	Code  int
	Value string
	Line  int // line number of the group code, 1-based
	Bad   bool
}

// Tokenizer reads group-code/value pairs from DXF text.
// Each pair spans two lines. Whitespace around both lines and CRLF
// line endings are ignored.
type Tokenizer struct {
	sc   *bufio.Scanner
	line int
}

// NewTokenizer creates a tokenizer over r.
func NewTokenizer(r io.Reader) *Tokenizer {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	return &Tokenizer{sc: sc}
}

// Next returns the next pair. It returns io.EOF when the stream is
// exhausted and io.ErrUnexpectedEOF when a code line has no value line.
// A non-integer code yields the pair with Bad set and an error wrapping
// ErrMalformedPair; the stream stays aligned and Next can be called again.
func (t *Tokenizer) Next() (Pair, error) {
	codeLine, ok := t.scan()
	for ok && codeLine == "" {
		// blank lines between pairs are tolerated
		codeLine, ok = t.scan()
	}
	if !ok {
		if err := t.sc.Err(); err != nil {
			return Pair{}, fmt.Errorf("reading drawing: %w", err)
		}
		return Pair{}, io.EOF
	}
	lineNo := t.line

	value, ok := t.scan()
	if !ok {
		if err := t.sc.Err(); err != nil {
			return Pair{}, fmt.Errorf("reading drawing: %w", err)
		}
		return Pair{}, io.ErrUnexpectedEOF
	}

	code, err := strconv.Atoi(codeLine)
	if err != nil {
		return Pair{Code: -1, Value: value, Line: lineNo, Bad: true},
			fmt.Errorf("line %d: %q: %w", lineNo, codeLine, ErrMalformedPair)
	}
	return Pair{Code: code, Value: value, Line: lineNo}, nil
}

func (t *Tokenizer) scan() (string, bool) {
	if !t.sc.Scan() {
		return "", false
	}
	t.line++
	return strings.TrimSpace(t.sc.Text()), true
}

// ReadPairs tokenizes the whole stream. Malformed pairs are kept with Bad
// set so the parser can discard the entity they belong to.
func ReadPairs(r io.Reader) ([]Pair, error) {
	tok := NewTokenizer(r)
	var pairs []Pair
	for {
		p, err := tok.Next()
		if err == io.EOF {
			return pairs, nil
		}
		if err != nil {
			if errors.Is(err, ErrMalformedPair) {
				pairs = append(pairs, p)
				continue
			}
			if errors.Is(err, io.ErrUnexpectedEOF) {
				// a dangling code line at the end carries no data
				return pairs, nil
			}
			return nil, err
		}
		pairs = append(pairs, p)
	}
}
