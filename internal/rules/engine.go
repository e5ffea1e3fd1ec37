package rules

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/spf13/afero"
)

const defaultLoopLimit = 30

// Engine rewrites transcripts with substitutions loaded from a rules file so
// recurring recognizer mistakes can be corrected before interpretation. The
// rule set can be reloaded while the engine is in use.
type Engine struct {
	fs        afero.Fs
	path      string
	parsers   []RuleParser
	loopLimit int

	mu    sync.RWMutex
	rules []compiledRule
}

// NewEngine loads rules from path on fs using the built-in parsers. A missing
// file or empty path yields an engine that returns text unchanged.
func NewEngine(fs afero.Fs, path string, loopLimit int) (*Engine, error) {
	return NewEngineWithParsers(fs, path, loopLimit, defaultRuleParsers())
}

func NewEngineWithParsers(fs afero.Fs, path string, loopLimit int, parsers []RuleParser) (*Engine, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if loopLimit <= 0 {
		loopLimit = defaultLoopLimit
	}
	if len(parsers) == 0 {
		parsers = defaultRuleParsers()
	}

	e := &Engine{fs: fs, path: strings.TrimSpace(path), parsers: parsers, loopLimit: loopLimit}
	if err := e.Reload(); err != nil {
		return nil, err
	}
	return e, nil
}

// Path is the rules file the engine reads.
func (e *Engine) Path() string {
	return e.path
}

// Reload re-reads the rules file. On error the previous rule set stays active.
func (e *Engine) Reload() error {
	if e.path == "" {
		return nil
	}

	contents, err := afero.ReadFile(e.fs, e.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			e.swap(nil)
			return nil
		}
		return fmt.Errorf("failed to read rules file %q: %w", e.path, err)
	}

	rules, err := parseRules(string(contents), e.parsers)
	if err != nil {
		return fmt.Errorf("failed to parse rules file %q: %w", e.path, err)
	}
	e.swap(rules)
	return nil
}

// Len reports how many rules are active.
func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.rules)
}

// Apply runs every rule repeatedly until the text stops changing or the loop
// limit is hit.
func (e *Engine) Apply(text string) (string, error) {
	e.mu.RLock()
	rules := e.rules
	e.mu.RUnlock()

	if len(rules) == 0 {
		return text, nil
	}

	result := text
	for pass := 0; pass < e.loopLimit; pass++ {
		changed := false
		for _, rule := range rules {
			if next, ok := rule.Apply(result); ok {
				result = next
				changed = true
			}
		}
		if !changed {
			break
		}
	}
	return result, nil
}

func (e *Engine) swap(rules []compiledRule) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = rules
}
