// Package jsonx pulls JSON payloads out of free-form model output.
package jsonx

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrNoObject = errors.New("no balanced JSON object found")

// ExtractObject returns the outermost balanced {...} in s. Braces inside
// string literals are ignored. Markdown code fences around the payload are
// tolerated because the scan simply skips them.
func ExtractObject(s string) (string, error) {
	start := strings.IndexByte(s, '{')
	for start >= 0 {
		if end, ok := matchBrace(s, start); ok {
			return s[start : end+1], nil
		}
		next := strings.IndexByte(s[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", ErrNoObject
}

func matchBrace(s string, start int) (int, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

// Decode extracts the outermost object from s and unmarshals it into v.
func Decode(s string, v any) error {
	raw, err := ExtractObject(s)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("failed to unmarshal extracted object: %w", err)
	}
	return nil
}
