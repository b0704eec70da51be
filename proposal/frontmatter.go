package proposal

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const fence = "---"

// ErrNoFrontMatter is returned when document does not start with a
// fenced front matter block
var ErrNoFrontMatter = errors.New("no front matter")

// ParseFrontMatter splits document into its front matter fields and body.
// front matter must be the first thing in the document and fenced by
// `---` lines. Headers which are not valid yaml (ie unquoted values
// containing `: `) are parsed line by line as `key: value` pairs.
func ParseFrontMatter(text string) (map[string]any, string, error) {
	text = strings.TrimPrefix(text, "\ufeff")
	text = strings.ReplaceAll(text, "\r\n", "\n")

	lines := strings.SplitAfter(text, "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != fence {
		return nil, text, ErrNoFrontMatter
	}

	end := -1
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == fence {
			end = i
			break
		}
	}
	if end == -1 {
		return nil, text, fmt.Errorf("unterminated front matter: %w", ErrNoFrontMatter)
	}

	header := strings.Join(lines[1:end], "")
	body := strings.TrimLeft(strings.Join(lines[end+1:], ""), "\n")

	fields := map[string]any{}
	if err := yaml.Unmarshal([]byte(header), &fields); err != nil {
		fields = parseHeaderLines(header)
	}
	return fields, body, nil
}

// parseHeaderLines parses RFC 822 style `key: value` header
func parseHeaderLines(header string) map[string]any {
	fields := map[string]any{}
	for _, line := range strings.Split(header, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" || strings.HasPrefix(key, "#") {
			continue
		}
		fields[key] = strings.TrimSpace(value)
	}
	return fields
}

// stringField returns front matter value as string
func stringField(fields map[string]any, key string) string {
	switch v := fields[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case time.Time:
		return v.Format(time.DateOnly)
	case []any:
		parts := make([]string, 0, len(v))
		for _, p := range v {
			parts = append(parts, fmt.Sprint(p))
		}
		return strings.Join(parts, ", ")
	default:
		return fmt.Sprint(v)
	}
}

// intField returns front matter value as int, 0 if missing or invalid
func intField(fields map[string]any, key string) int {
	switch v := fields[key].(type) {
	case int:
		return v
	case string:
		n, _ := strconv.Atoi(strings.TrimSpace(v))
		return n
	default:
		return 0
	}
}

// intListField parses values like `20`, `20, 165` or `[20, 165]`
func intListField(fields map[string]any, key string) []int {
	var raw []string
	switch v := fields[key].(type) {
	case nil:
		return nil
	case int:
		return []int{v}
	case string:
		raw = strings.Split(v, ",")
	case []any:
		for _, p := range v {
			raw = append(raw, fmt.Sprint(p))
		}
	default:
		return nil
	}

	var out []int
	for _, r := range raw {
		n, err := strconv.Atoi(strings.TrimSpace(r))
		if err != nil {
			continue
		}
		out = append(out, n)
	}
	return out
}
