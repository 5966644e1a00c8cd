package routes

import (
	"regexp"
	"strings"
)

var configExport = regexp.MustCompile(`export\s+const\s+config\s*(?::[^=]*)?=\s*`)

// rawConfig is the literal content of a middleware `export const config`.
type rawConfig struct {
	Matcher    []string
	HasMatcher bool
	Runtime    string
	HasRuntime bool
}

// scanConfig extracts matcher and runtime from the first exported config
// object literal in src. Values that are not literals are ignored.
func scanConfig(src string) (rawConfig, bool) {
	loc := configExport.FindStringIndex(src)
	if loc == nil {
		return rawConfig{}, false
	}
	s := &literalScanner{src: src, pos: loc[1]}
	v, ok := s.value()
	obj, isObj := v.(map[string]any)
	if !ok || !isObj {
		return rawConfig{}, false
	}

	var cfg rawConfig
	if m, present := obj["matcher"]; present {
		cfg.Matcher, cfg.HasMatcher = matcherStrings(m)
	}
	if r, present := obj["runtime"].(string); present {
		cfg.Runtime, cfg.HasRuntime = r, true
	}
	return cfg, true
}

// matcherStrings accepts a string, an array of strings, or an array of
// `{source: string}` objects.
func matcherStrings(v any) ([]string, bool) {
	switch m := v.(type) {
	case string:
		return []string{m}, true
	case []any:
		out := make([]string, 0, len(m))
		for _, item := range m {
			switch it := item.(type) {
			case string:
				out = append(out, it)
			case map[string]any:
				if src, ok := it["source"].(string); ok {
					out = append(out, src)
				}
			}
		}
		return out, true
	default:
		return nil, false
	}
}

// literalScanner reads JavaScript object, array and string literals.
// Anything else is skipped and yields nil.
type literalScanner struct {
	src string
	pos int
}

func (s *literalScanner) eof() bool { return s.pos >= len(s.src) }

func (s *literalScanner) peek() byte {
	if s.eof() {
		return 0
	}
	return s.src[s.pos]
}

func (s *literalScanner) skipSpace() {
	for !s.eof() {
		switch {
		case strings.HasPrefix(s.src[s.pos:], "//"):
			if i := strings.IndexByte(s.src[s.pos:], '\n'); i >= 0 {
				s.pos += i + 1
			} else {
				s.pos = len(s.src)
			}
		case strings.HasPrefix(s.src[s.pos:], "/*"):
			if i := strings.Index(s.src[s.pos+2:], "*/"); i >= 0 {
				s.pos += i + 4
			} else {
				s.pos = len(s.src)
			}
		case strings.IndexByte(" \t\r\n", s.peek()) >= 0:
			s.pos++
		default:
			return
		}
	}
}

func (s *literalScanner) value() (any, bool) {
	s.skipSpace()
	switch s.peek() {
	case '\'', '"', '`':
		return s.str()
	case '[':
		return s.array()
	case '{':
		return s.object()
	case 0:
		return nil, false
	default:
		return nil, s.skipExpr()
	}
}

func (s *literalScanner) str() (any, bool) {
	quote := s.peek()
	s.pos++
	var sb strings.Builder
	for !s.eof() {
		ch := s.src[s.pos]
		switch {
		case ch == '\\' && s.pos+1 < len(s.src):
			sb.WriteByte(unescape(s.src[s.pos+1]))
			s.pos += 2
		case ch == quote:
			s.pos++
			return sb.String(), true
		case quote == '`' && strings.HasPrefix(s.src[s.pos:], "${"):
			// Interpolated templates are not literals.
			s.skipUntilByte('`')
			return nil, true
		default:
			sb.WriteByte(ch)
			s.pos++
		}
	}
	return nil, false
}

func unescape(ch byte) byte {
	switch ch {
	case 'n':
		return '\n'
	case 't':
		return '\t'
	default:
		return ch
	}
}

func (s *literalScanner) skipUntilByte(b byte) {
	for !s.eof() {
		ch := s.src[s.pos]
		s.pos++
		if ch == '\\' {
			s.pos++
			continue
		}
		if ch == b {
			return
		}
	}
}

func (s *literalScanner) array() (any, bool) {
	s.pos++ // [
	var out []any
	for {
		s.skipSpace()
		switch s.peek() {
		case ']':
			s.pos++
			if out == nil {
				out = []any{}
			}
			return out, true
		case ',':
			s.pos++
			continue
		case 0:
			return nil, false
		}
		v, ok := s.value()
		if !ok {
			return nil, false
		}
		if v != nil {
			out = append(out, v)
		}
	}
}

func (s *literalScanner) object() (any, bool) {
	s.pos++ // {
	out := make(map[string]any)
	for {
		s.skipSpace()
		switch s.peek() {
		case '}':
			s.pos++
			return out, true
		case ',':
			s.pos++
			continue
		case 0:
			return nil, false
		}
		key, ok := s.key()
		if !ok {
			// Spreads, computed keys and methods.
			if !s.skipExpr() {
				return nil, false
			}
			continue
		}
		s.skipSpace()
		if s.peek() != ':' {
			if !s.skipExpr() {
				return nil, false
			}
			continue
		}
		s.pos++
		v, ok := s.value()
		if !ok {
			return nil, false
		}
		if v != nil {
			out[key] = v
		}
	}
}

func (s *literalScanner) key() (string, bool) {
	switch ch := s.peek(); {
	case ch == '\'' || ch == '"':
		v, ok := s.str()
		str, isStr := v.(string)
		return str, ok && isStr
	case isIdentByte(ch):
		start := s.pos
		for !s.eof() && isIdentByte(s.peek()) {
			s.pos++
		}
		return s.src[start:s.pos], true
	default:
		return "", false
	}
}

func isIdentByte(ch byte) bool {
	return ch == '_' || ch == '$' ||
		(ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9')
}

// skipExpr advances to the next top-level ',', '}' or ']'. It reports
// whether any input was consumed.
func (s *literalScanner) skipExpr() bool {
	start := s.pos
	depth := 0
	for !s.eof() {
		switch ch := s.peek(); ch {
		case '\'', '"', '`':
			s.pos++
			s.skipUntilByte(ch)
			continue
		case '(', '[', '{':
			depth++
		case ')':
			depth--
		case ']', '}':
			if depth == 0 {
				return s.pos > start
			}
			depth--
		case ',':
			if depth == 0 {
				return s.pos > start
			}
		}
		s.pos++
	}
	return s.pos > start
}
