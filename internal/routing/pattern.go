package routing

import (
	"fmt"
	"regexp"
	"strings"
)

// matcher is a compiled route pattern.
type matcher struct {
	re     *regexp.Regexp
	params []string
}

// compilePattern turns a path template into an anchored matcher.
// Literal segments are matched verbatim, `{name}` captures one path
// segment, and `*` matches any characters including `/`.
func compilePattern(pattern string) (*matcher, error) {
	var sb strings.Builder
	sb.WriteString("^")
	var params []string

	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		switch c {
		case '{':
			end := strings.IndexByte(pattern[i:], '}')
			if end < 0 {
				return nil, fmt.Errorf("unterminated parameter in pattern %q", pattern)
			}
			name := pattern[i+1 : i+end]
			if name == "" {
				return nil, fmt.Errorf("empty parameter name in pattern %q", pattern)
			}
			params = append(params, name)
			fmt.Fprintf(&sb, "(?P<%s>[^/]+)", name)
			i += end
		case '*':
			sb.WriteString(".*")
		default:
			sb.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	sb.WriteString("$")

	re, err := regexp.Compile(sb.String())
	if err != nil {
		return nil, fmt.Errorf("compiling pattern %q: %w", pattern, err)
	}
	return &matcher{re: re, params: params}, nil
}

// match tests a path, returning captured parameters on success.
func (m *matcher) match(path string) (map[string]string, bool) {
	groups := m.re.FindStringSubmatch(path)
	if groups == nil {
		return nil, false
	}
	params := make(map[string]string, len(m.params))
	for i, name := range m.re.SubexpNames() {
		if i == 0 || name == "" {
			continue
		}
		params[name] = groups[i]
	}
	return params, true
}
