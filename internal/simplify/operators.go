package simplify

import (
	"bytes"
	"regexp"

	"github.com/fluxfuzzer/edgefuzz/internal/bytesops"
	"github.com/fluxfuzzer/edgefuzz/internal/sampler"
)

func lineBounds(data []byte) []int {
	bounds := []int{0}
	for i, b := range data {
		if b == '\n' {
			bounds = append(bounds, i+1)
		}
	}
	bounds = append(bounds, len(data))
	return bounds
}

// removeLines deletes a contiguous run of newline-delimited lines.
type removeLines struct {
	start, count *sampler.AdaptiveRange
}

func newRemoveLines() *removeLines {
	return &removeLines{start: sampler.NewAdaptiveRange(), count: sampler.NewAdaptiveRange()}
}

func (o *removeLines) Name() string { return "remove-lines" }

func (o *removeLines) Apply(data []byte) ([]byte, error) {
	bounds := lineBounds(data)
	numLines := len(bounds) - 1
	if numLines < 1 {
		return nil, ErrOutOfData
	}

	startLine, err := o.start.SampleMax(numLines - 1)
	if err != nil {
		return nil, err
	}
	count, err := o.count.Sample(1, numLines-startLine)
	if err != nil {
		return nil, err
	}

	from := bounds[startLine]
	to := bounds[startLine+count]
	return bytesops.Remove(data, from, to-from)
}

func (o *removeLines) Update(success bool) {
	o.start.Update(success)
	o.count.Update(success)
}

// removeCharacters deletes up to 9 characters at a random offset,
// refusing a deletion that crosses a line break or strips a line's
// leading whitespace.
type removeCharacters struct {
	start, length *sampler.AdaptiveRange
}

func newRemoveCharacters() *removeCharacters {
	return &removeCharacters{start: sampler.NewAdaptiveRange(), length: sampler.NewAdaptiveRange()}
}

func (o *removeCharacters) Name() string { return "remove-characters" }

func (o *removeCharacters) Apply(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, ErrOutOfData
	}

	length, err := o.length.Sample(1, min(9, len(data)))
	if err != nil {
		return nil, err
	}
	start, err := o.start.Sample(0, len(data)-length)
	if err != nil {
		return nil, err
	}

	return removeCharactersAt(data, start, length)
}

// removeCharactersAt is the deterministic core of removeCharacters,
// split out so the refusal rules (don't cross a line break, don't strip
// a line's leading characters) can be tested directly.
func removeCharactersAt(data []byte, start, length int) ([]byte, error) {
	if bytes.IndexByte(data[start:start+length], '\n') != -1 {
		return nil, ErrOutOfData
	}

	lineStart := start
	for lineStart > 0 && data[lineStart-1] != '\n' {
		lineStart--
	}
	if start == lineStart {
		return nil, ErrOutOfData // would remove the line's first character
	}
	indentEnd := lineStart
	for indentEnd < len(data) && (data[indentEnd] == ' ' || data[indentEnd] == '\t') {
		indentEnd++
	}
	if start < indentEnd {
		return nil, ErrOutOfData // would strip leading whitespace of the line
	}

	return bytesops.Remove(data, start, length)
}

func (o *removeCharacters) Update(success bool) {
	o.start.Update(success)
	o.length.Update(success)
}

// shortenToken drops the last character of one occurrence of a chosen
// unique token, repeated for every occurrence of that exact token in the
// buffer.
type shortenToken struct {
	pattern *sampler.AdaptiveRange
	token   *sampler.AdaptiveRange
}

var tokenPatterns = []*regexp.Regexp{
	regexp.MustCompile(`[A-Za-z0-9_]+`),
	regexp.MustCompile(`\S+`),
}

func newShortenToken() *shortenToken {
	return &shortenToken{pattern: sampler.NewAdaptiveRange(), token: sampler.NewAdaptiveRange()}
}

func (o *shortenToken) Name() string { return "shorten-token" }

func (o *shortenToken) Apply(data []byte) ([]byte, error) {
	patIdx, err := o.pattern.SampleMax(len(tokenPatterns) - 1)
	if err != nil {
		return nil, err
	}
	re := tokenPatterns[patIdx]

	matches := re.FindAll(data, -1)
	uniq := map[string]bool{}
	var tokens []string
	for _, m := range matches {
		s := string(m)
		if len(s) < 2 {
			continue
		}
		if !uniq[s] {
			uniq[s] = true
			tokens = append(tokens, s)
		}
	}
	if len(tokens) == 0 {
		return nil, ErrOutOfData
	}

	idx, err := o.token.SampleMax(len(tokens) - 1)
	if err != nil {
		return nil, err
	}
	token := tokens[idx]
	shortened := token[:len(token)-1]

	return bytes.ReplaceAll(data, []byte(token), []byte(shortened)), nil
}

func (o *shortenToken) Update(success bool) {
	o.pattern.Update(success)
	o.token.Update(success)
}
