package llm

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNoJSONObject = errors.New("no JSON object in model output")
	ErrInvalidJSON  = errors.New("model output is not valid JSON")
)

// RepairJSON extracts the first JSON object from a completion and fixes the
// usual small-model mistakes: prose or code fences around it, truncated
// output (missing closers), trailing commas, single-quoted strings and
// Python literals (True, False, None).
func RepairJSON(text string) ([]byte, error) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return nil, ErrNoJSONObject
	}
	out := rewriteObject(text[start:])
	if !json.Valid(out) {
		var v any
		err := json.Unmarshal(out, &v)
		return out, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	return out, nil
}

// rewriteObject copies src up to the end of its first top-level object,
// emitting strict JSON.
func rewriteObject(src string) []byte {
	var b bytes.Buffer
	var closers []byte
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == '"' || c == '\'':
			s, n, closed := quoteString(src[i:], c)
			b.WriteString(s)
			i += n
			if !closed {
				return closeAll(&b, closers)
			}
			continue
		case c == '{':
			closers = append(closers, '}')
		case c == '[':
			closers = append(closers, ']')
		case c == '}' || c == ']':
			at := bytes.LastIndexByte(closers, c)
			if at < 0 {
				i++
				continue // stray closer
			}
			for len(closers) > at {
				trimTrailingComma(&b)
				b.WriteByte(closers[len(closers)-1])
				closers = closers[:len(closers)-1]
			}
			if len(closers) == 0 {
				return b.Bytes()
			}
			i++
			continue
		case isWordByte(c):
			j := i
			for j < len(src) && isWordByte(src[j]) {
				j++
			}
			b.WriteString(jsonLiteral(src[i:j]))
			i = j
			continue
		}
		b.WriteByte(c)
		i++
	}
	return closeAll(&b, closers)
}

func closeAll(b *bytes.Buffer, closers []byte) []byte {
	for k := len(closers) - 1; k >= 0; k-- {
		trimTrailingComma(b)
		b.WriteByte(closers[k])
	}
	return b.Bytes()
}

// quoteString reads a string literal delimited by quote at s[0] and returns
// it double-quoted, the bytes consumed, and whether it was terminated.
func quoteString(s string, quote byte) (string, int, bool) {
	var sb strings.Builder
	sb.WriteByte('"')
	i := 1
	for i < len(s) {
		ch := s[i]
		switch {
		case ch == '\\' && i+1 < len(s):
			if s[i+1] == '\'' {
				sb.WriteByte('\'')
			} else {
				sb.WriteByte('\\')
				sb.WriteByte(s[i+1])
			}
			i += 2
			continue
		case ch == quote:
			sb.WriteByte('"')
			return sb.String(), i + 1, true
		case ch == '"':
			sb.WriteString(`\"`)
		case ch == '\n':
			sb.WriteString(`\n`)
		case ch == '\r':
			sb.WriteString(`\r`)
		case ch == '\t':
			sb.WriteString(`\t`)
		default:
			sb.WriteByte(ch)
		}
		i++
	}
	sb.WriteByte('"')
	return sb.String(), len(s), false
}

func trimTrailingComma(b *bytes.Buffer) {
	bs := b.Bytes()
	j := len(bs) - 1
	for j >= 0 && (bs[j] == ' ' || bs[j] == '\n' || bs[j] == '\r' || bs[j] == '\t') {
		j--
	}
	if j >= 0 && bs[j] == ',' {
		b.Truncate(j)
	}
}

func isWordByte(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '_'
}

func jsonLiteral(word string) string {
	switch word {
	case "True":
		return "true"
	case "False":
		return "false"
	case "None", "NULL", "Null":
		return "null"
	}
	return word
}
