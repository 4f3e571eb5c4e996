package rules

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

type literalParser struct{}

func (literalParser) CanParse(line string) bool {
	return strings.Contains(line, "=>")
}

func (literalParser) Parse(line string) (Rule, error) {
	return parseLiteral(line)
}

type literalRule struct {
	re          *regexp.Regexp
	replacement string
}

func parseLiteral(line string) (Rule, error) {
	from, to, ok := strings.Cut(line, "=>")
	if !ok {
		return nil, errors.New("invalid literal rule")
	}
	from, to = strings.TrimSpace(from), strings.TrimSpace(to)
	if from == "" {
		return nil, errors.New("literal rule source cannot be empty")
	}
	re, err := regexp.Compile("(?i)" + regexp.QuoteMeta(from))
	if err != nil {
		return nil, fmt.Errorf("invalid literal source: %w", err)
	}
	return literalRule{re: re, replacement: to}, nil
}

func (r literalRule) Apply(input string) (string, bool) {
	output := r.re.ReplaceAllLiteralString(input, r.replacement)
	return output, output != input
}

// regexParser accepts sed-style s<d>pattern<d>replacement<d>flags lines.
// Matching is case-insensitive unless the pattern disables it.
type regexParser struct{}

func (regexParser) CanParse(line string) bool {
	return len(line) > 1 && line[0] == 's' && !isWordOrSpace(line[1])
}

func (regexParser) Parse(line string) (Rule, error) {
	return parseRegex(line)
}

type regexRule struct {
	re          *regexp.Regexp
	replacement string
	global      bool
}

func parseRegex(line string) (Rule, error) {
	if len(line) < 2 {
		return nil, errors.New("invalid regex rule")
	}
	delim := line[1]
	if isWordOrSpace(delim) {
		return nil, errors.New("regex delimiter must be non-alphanumeric")
	}

	pattern, next, err := readDelimited(line, 2, delim)
	if err != nil {
		return nil, fmt.Errorf("invalid regex pattern: %w", err)
	}
	replacement, next, err := readDelimited(line, next, delim)
	if err != nil {
		return nil, fmt.Errorf("invalid regex replacement: %w", err)
	}

	inline := "i"
	global := false
	for _, flag := range strings.TrimSpace(line[next:]) {
		switch flag {
		case 'g':
			global = true
		case 'i':
		case 'm', 's':
			inline += string(flag)
		case ' ':
		default:
			return nil, fmt.Errorf("unsupported regex flag %q", flag)
		}
	}

	re, err := regexp.Compile("(?" + inline + ")" + pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid regex: %w", err)
	}
	return regexRule{re: re, replacement: replacement, global: global}, nil
}

func (r regexRule) Apply(input string) (string, bool) {
	if r.global {
		output := r.re.ReplaceAllString(input, r.replacement)
		return output, output != input
	}

	loc := r.re.FindStringSubmatchIndex(input)
	if loc == nil {
		return input, false
	}
	expanded := r.re.ExpandString(nil, r.replacement, input, loc)
	output := input[:loc[0]] + string(expanded) + input[loc[1]:]
	return output, output != input
}

// readDelimited returns the text up to the next unescaped delim and the
// index after it. Escapes are kept for the regex compiler.
func readDelimited(line string, start int, delim byte) (string, int, error) {
	if start >= len(line) {
		return "", 0, errors.New("unexpected end of expression")
	}
	var b strings.Builder
	escaped := false
	for i := start; i < len(line); i++ {
		ch := line[i]
		switch {
		case escaped:
			escaped = false
		case ch == '\\':
			escaped = true
		case ch == delim:
			return b.String(), i + 1, nil
		}
		b.WriteByte(ch)
	}
	return "", 0, errors.New("unterminated expression")
}

func isWordOrSpace(ch byte) bool {
	return ch >= 'a' && ch <= 'z' ||
		ch >= 'A' && ch <= 'Z' ||
		ch >= '0' && ch <= '9' ||
		ch == ' ' || ch == '\t'
}

// pauseParser accepts "pause <marks> <marker>". The marker is spoken as a
// short pause after any of the marks when more text follows.
type pauseParser struct{}

func (pauseParser) CanParse(line string) bool {
	return strings.HasPrefix(line, "pause ") && !strings.Contains(line, "=>")
}

func (pauseParser) Parse(line string) (Rule, error) {
	fields := strings.Fields(strings.TrimPrefix(line, "pause "))
	if len(fields) < 2 {
		return nil, errors.New("pause rule needs marks and a marker")
	}
	return pauseRule{marks: fields[0], marker: strings.Join(fields[1:], " ")}, nil
}

type pauseRule struct {
	marks  string
	marker string
}

func (r pauseRule) Apply(input string) (string, bool) {
	var b strings.Builder
	changed := false
	rest := input
	for rest != "" {
		ch, size := utf8.DecodeRuneInString(rest)
		b.WriteString(rest[:size])
		rest = rest[size:]
		if !strings.ContainsRune(r.marks, ch) {
			continue
		}
		trimmed := strings.TrimLeftFunc(rest, unicode.IsSpace)
		if len(trimmed) == len(rest) || trimmed == "" || strings.HasPrefix(trimmed, r.marker) {
			continue
		}
		b.WriteString(" " + r.marker + " ")
		rest = trimmed
		changed = true
	}
	if !changed {
		return input, false
	}
	return b.String(), true
}
