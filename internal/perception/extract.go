package perception

import (
	"encoding/json"
	"errors"
	"strings"
)

// ErrNoObject is returned when a response holds no decodable JSON object.
var ErrNoObject = errors.New("no JSON object found in analyzer response")

// ExtractObject pulls the first JSON object out of a model response. The
// whole trimmed response is tried first; failing that, every balanced
// top-level {...} span is tried in order of appearance. A span that does not
// decode is searched again from just inside its opening brace.
func ExtractObject(response string) (map[string]interface{}, error) {
	trimmed := strings.TrimSpace(response)
	if trimmed == "" {
		return nil, ErrNoObject
	}

	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(trimmed), &obj); err == nil && obj != nil {
		return obj, nil
	}

	for _, candidate := range findJSONCandidates(trimmed) {
		var m map[string]interface{}
		if err := json.Unmarshal([]byte(candidate), &m); err == nil && m != nil {
			return m, nil
		}
		if inner, err := ExtractObject(candidate[1 : len(candidate)-1]); err == nil {
			return inner, nil
		}
	}
	return nil, ErrNoObject
}

// findJSONCandidates scans the input string for top-level JSON object candidates.
// It handles nested braces and string escaping to correctly identify boundaries.
// Quotes are only tracked inside an object, so stray quotes in surrounding
// prose do not hide the object that follows. An opening brace that is never
// closed is skipped and the scan resumes right after it.
//
// It is safe to iterate bytes for ASCII delimiters ({, }, ", \) because
// UTF-8 encoding guarantees that ASCII bytes never appear as part of a multi-byte sequence.
func findJSONCandidates(s string) []string {
	var candidates []string
	for pos := 0; pos < len(s); {
		start, end := nextObjectSpan(s, pos)
		if start < 0 {
			break
		}
		if end < 0 {
			pos = start + 1
			continue
		}
		candidates = append(candidates, s[start:end+1])
		pos = end + 1
	}
	return candidates
}

// nextObjectSpan finds the first '{' at or after from and the index of the
// brace that balances it. end is -1 when the object never closes; start is
// -1 when there is no opening brace left.
func nextObjectSpan(s string, from int) (start, end int) {
	start = strings.IndexByte(s[from:], '{')
	if start < 0 {
		return -1, -1
	}
	start += from

	var depth int
	var inString bool
	var escape bool
	for i := start; i < len(s); i++ {
		b := s[i]

		if escape {
			escape = false
			continue
		}

		if inString {
			if b == '\\' {
				escape = true
			} else if b == '"' {
				inString = false
			}
			continue
		}

		switch b {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return start, i
			}
		}
	}
	return start, -1
}
