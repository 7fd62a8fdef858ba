package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExtractJSON pulls a JSON object or array out of a model response that may
// wrap it in prose or a code fence. It tries, in order: a raw parse, every
// balanced brace/bracket span (outermost first), and a lenient repair pass.
// Among successful candidates the longest serialized one wins.
func ExtractJSON(response string) (json.RawMessage, error) {
	response = strings.TrimSpace(response)
	if response == "" {
		return nil, fmt.Errorf("extract json: empty response")
	}

	if candidate, ok := tryParse(response); ok {
		return candidate, nil
	}

	var best json.RawMessage
	consider := func(c json.RawMessage) {
		if len(c) > len(best) {
			best = c
		}
	}

	var opens, closes []int
	for i, ch := range response {
		switch ch {
		case '{', '[':
			opens = append(opens, i)
		case '}', ']':
			closes = append(closes, i)
		}
	}
	for _, i := range opens {
		for k := len(closes) - 1; k >= 0; k-- {
			j := closes[k]
			if j <= i {
				break
			}
			if candidate, ok := tryParse(response[i : j+1]); ok {
				consider(candidate)
				break // later closers for this opener are shorter
			}
		}
	}

	if repaired, ok := tryParse(repairJSON(response)); ok {
		consider(repaired)
	}
	if best == nil {
		return nil, fmt.Errorf("extract json: no parseable object in response")
	}
	return best, nil
}

// tryParse parses s as a JSON object or array and returns it compacted.
func tryParse(s string) (json.RawMessage, bool) {
	s = strings.TrimSpace(s)
	if len(s) == 0 || (s[0] != '{' && s[0] != '[') {
		return nil, false
	}
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, false
	}
	switch v.(type) {
	case map[string]any, []any:
	default:
		return nil, false
	}
	compact, err := json.Marshal(v)
	if err != nil {
		return nil, false
	}
	return compact, true
}

// repairJSON applies lenient cleanups for common model mistakes: markdown
// fences, trailing commas, and unbalanced closers.
func repairJSON(s string) string {
	s = strings.TrimSpace(s)

	// Strip a markdown code fence if present.
	if idx := strings.Index(s, "```"); idx >= 0 {
		s = s[idx+3:]
		s = strings.TrimPrefix(s, "json")
		if end := strings.Index(s, "```"); end >= 0 {
			s = s[:end]
		}
	}
	s = strings.TrimSpace(s)

	// Cut leading prose before the first opener.
	if idx := strings.IndexAny(s, "{["); idx > 0 {
		s = s[idx:]
	}

	// Remove trailing commas before closers.
	var b strings.Builder
	inString := false
	escaped := false
	runes := []rune(s)
	for i, r := range runes {
		if inString {
			b.WriteRune(r)
			if escaped {
				escaped = false
			} else if r == '\\' {
				escaped = true
			} else if r == '"' {
				inString = false
			}
			continue
		}
		if r == '"' {
			inString = true
			b.WriteRune(r)
			continue
		}
		if r == ',' {
			j := i + 1
			for j < len(runes) && (runes[j] == ' ' || runes[j] == '\n' || runes[j] == '\t' || runes[j] == '\r') {
				j++
			}
			if j < len(runes) && (runes[j] == '}' || runes[j] == ']') {
				continue
			}
		}
		b.WriteRune(r)
	}
	s = b.String()

	// Append missing closers for unbalanced openers.
	var stack []rune
	inString = false
	escaped = false
	for _, r := range s {
		if inString {
			if escaped {
				escaped = false
			} else if r == '\\' {
				escaped = true
			} else if r == '"' {
				inString = false
			}
			continue
		}
		switch r {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) > 0 && stack[len(stack)-1] == r {
				stack = stack[:len(stack)-1]
			}
		}
	}
	if inString {
		s += `"`
	}
	for i := len(stack) - 1; i >= 0; i-- {
		s += string(stack[i])
	}
	return s
}
