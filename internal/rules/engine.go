// Package rules rewrites reply text into the form handed to the synthesizer.
package rules

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
)

const DefaultIterationLimit = 30

//go:embed speech.rules
var defaultRules string

// Rule rewrites text. changed must be false when output equals input.
type Rule interface {
	Apply(input string) (output string, changed bool)
}

// Parser compiles one rules-file line.
type Parser interface {
	CanParse(line string) bool
	Parse(line string) (Rule, error)
}

// Engine applies rules repeatedly until the text stops changing or the
// iteration limit is hit.
type Engine struct {
	rules          []Rule
	iterationLimit int
}

// NewEngine loads rules from path. An empty or missing path selects the
// built-in speech rules.
func NewEngine(path string, iterationLimit int) (*Engine, error) {
	return NewEngineWithParsers(path, iterationLimit, DefaultParsers())
}

func NewEngineWithParsers(path string, iterationLimit int, parsers []Parser) (*Engine, error) {
	if iterationLimit <= 0 {
		iterationLimit = DefaultIterationLimit
	}
	if len(parsers) == 0 {
		parsers = DefaultParsers()
	}

	source, origin := defaultRules, "built-in speech rules"
	if path = strings.TrimSpace(path); path != "" {
		contents, err := os.ReadFile(path)
		switch {
		case err == nil:
			source, origin = string(contents), path
		case !errors.Is(err, os.ErrNotExist):
			return nil, fmt.Errorf("failed to read rules file %q: %w", path, err)
		}
	}

	compiled, err := Parse(source, parsers)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", origin, err)
	}
	return &Engine{rules: compiled, iterationLimit: iterationLimit}, nil
}

// Len is the number of compiled rules.
func (e *Engine) Len() int {
	return len(e.rules)
}

// Apply transforms text deterministically.
func (e *Engine) Apply(text string) (string, error) {
	result := text
	for pass := 0; pass < e.iterationLimit; pass++ {
		changed := false
		for _, rule := range e.rules {
			if next, ok := rule.Apply(result); ok {
				result = next
				changed = true
			}
		}
		if !changed {
			break
		}
	}
	return strings.TrimSpace(result), nil
}

// Parse compiles a rules file. Blank lines and # comments are skipped.
func Parse(contents string, parsers []Parser) ([]Rule, error) {
	var compiled []Rule
	for index, raw := range strings.Split(contents, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		rule, err := parseLine(line, parsers)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", index+1, err)
		}
		compiled = append(compiled, rule)
	}
	return compiled, nil
}

func parseLine(line string, parsers []Parser) (Rule, error) {
	for _, parser := range parsers {
		if parser.CanParse(line) {
			return parser.Parse(line)
		}
	}
	return nil, errors.New("unsupported rule format")
}

// DefaultParsers tries pause directives, then regex, then literal rules.
func DefaultParsers() []Parser {
	return []Parser{pauseParser{}, regexParser{}, literalParser{}}
}
