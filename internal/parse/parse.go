// Package parse turns free-text worker output into typed artifacts at the
// phase boundary. Workers are asked for JSON but routinely wrap it in prose
// or code fences; extraction here is forgiving, decoding is not.
package parse

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var ErrNoJSON = errors.New("no JSON object found in output")

var fencedRe = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// Object decodes the first JSON object found in text into v. It tries the
// whole text, then a fenced code block, then the outermost brace span.
func Object(text string, v any) error {
	trimmed := strings.TrimSpace(text)
	if err := json.Unmarshal([]byte(trimmed), v); err == nil {
		return nil
	}

	if m := fencedRe.FindStringSubmatch(text); m != nil {
		if err := json.Unmarshal([]byte(m[1]), v); err == nil {
			return nil
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		if err := json.Unmarshal([]byte(text[start:end+1]), v); err == nil {
			return nil
		}
		return fmt.Errorf("decode JSON object: %w", ErrNoJSON)
	}
	return ErrNoJSON
}

// StringList extracts a named array of strings from a JSON object in text,
// dropping empty entries.
func StringList(text, field string) ([]string, error) {
	var obj map[string]json.RawMessage
	if err := Object(text, &obj); err != nil {
		return nil, err
	}
	raw, ok := obj[field]
	if !ok {
		return nil, fmt.Errorf("field %q missing", field)
	}
	var items []string
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("field %q: %w", field, err)
	}
	out := items[:0]
	for _, it := range items {
		if s := strings.TrimSpace(it); s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}
