package openai

import "strings"

// cleanJSON extracts the JSON object from a model reply and repairs the
// formatting mistakes small models commonly make: code fences, prose around
// the object, keys missing their opening quote and trailing commas.
func cleanJSON(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)
	if start, end := strings.IndexByte(s, '{'), strings.LastIndexByte(s, '}'); start >= 0 && end > start {
		s = s[start : end+1]
	}
	return dropTrailingCommas(quoteKeys(s))
}

// scanner tracks whether a byte offset is inside a JSON string.
type scanner struct {
	inString bool
	escaped  bool
}

// step consumes c and reports whether it was part of a string literal.
func (sc *scanner) step(c byte) bool {
	if sc.inString {
		switch {
		case sc.escaped:
			sc.escaped = false
		case c == '\\':
			sc.escaped = true
		case c == '"':
			sc.inString = false
		}
		return true
	}
	if c == '"' {
		sc.inString = true
		return true
	}
	return false
}

// quoteKeys turns `, key":` into `, "key":`.
func quoteKeys(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 8)
	var sc scanner
	expectKey := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if sc.step(c) {
			expectKey = false
			b.WriteByte(c)
			continue
		}
		switch {
		case c == '{' || c == ',':
			expectKey = true
		case expectKey && isKeyByte(c):
			end := i
			for end < len(s) && isKeyByte(s[end]) {
				end++
			}
			if strings.HasPrefix(s[end:], `":`) {
				b.WriteByte('"')
				sc.inString = true
			}
			b.WriteString(s[i:end])
			i = end - 1
			expectKey = false
			continue
		case !isSpace(c):
			expectKey = false
		}
		b.WriteByte(c)
	}
	return b.String()
}

// dropTrailingCommas removes commas directly before a closing brace or bracket.
func dropTrailingCommas(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	var sc scanner
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !sc.step(c) && c == ',' {
			rest := strings.TrimLeft(s[i+1:], " \t\r\n")
			if rest != "" && (rest[0] == '}' || rest[0] == ']') {
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}

func isKeyByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
