package loader

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/rulekit/rulekit/pkg/engine"
)

// Loader reads rule documents from YAML or JSON files and converts them into
// engine rules.
type Loader struct {
	logger   zerolog.Logger
	validate *validator.Validate
	cache    map[string]*Document
	mu       sync.RWMutex
	watcher  *fsnotify.Watcher
}

// NewLoader creates a rule loader.
func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{
		logger:   logger.With().Str("component", "rule-loader").Logger(),
		validate: validator.New(),
		cache:    make(map[string]*Document),
	}
}

// Parse decodes a YAML rule document and validates its structure.
func (l *Loader) Parse(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse YAML document: %w", err)
	}
	if err := l.validate.Struct(&doc); err != nil {
		return nil, fmt.Errorf("invalid rule document: %w", err)
	}
	return &doc, nil
}

// ParseJSON decodes a JSON rule document and validates its structure.
func (l *Loader) ParseJSON(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse JSON document: %w", err)
	}
	if err := l.validate.Struct(&doc); err != nil {
		return nil, fmt.Errorf("invalid rule document: %w", err)
	}
	return &doc, nil
}

// Rules converts a parsed document into engine rules. Each definition's
// condition tree is decoded through the engine's own serialization, so
// structurally invalid trees are rejected here rather than at run time.
func (l *Loader) Rules(doc *Document) ([]*engine.Rule, error) {
	rules := make([]*engine.Rule, 0, len(doc.Rules))
	for _, def := range doc.Rules {
		rule, err := l.buildRule(def)
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", def.Name, err)
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// buildRule converts one definition into an engine.Rule.
func (l *Loader) buildRule(def RuleDefinition) (*engine.Rule, error) {
	raw, err := json.Marshal(def.Conditions)
	if err != nil {
		return nil, fmt.Errorf("failed to encode conditions: %w", err)
	}

	var conditions engine.Condition
	if err := json.Unmarshal(raw, &conditions); err != nil {
		return nil, err
	}

	rule := engine.NewRule(def.Name, &conditions, engine.Event{
		Type:   def.Event.Type,
		Params: def.Event.Params,
	})
	if def.Priority > 0 {
		rule.SetPriority(def.Priority)
	}

	if err := rule.Validate(); err != nil {
		return nil, err
	}
	return rule, nil
}

// LoadFromPaths loads rules from a list of file or directory paths.
func (l *Loader) LoadFromPaths(ctx context.Context, paths []string) ([]*engine.Rule, error) {
	var allRules []*engine.Rule

	for _, path := range paths {
		rules, err := l.loadFromPath(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("failed to load from path %s: %w", path, err)
		}
		allRules = append(allRules, rules...)
	}

	l.logger.Info().
		Int("total", len(allRules)).
		Int("sources", len(paths)).
		Msg("Rules loaded from paths")

	return allRules, nil
}

// loadFromPath loads rules from a single path (file or directory).
func (l *Loader) loadFromPath(ctx context.Context, path string) ([]*engine.Rule, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat path: %w", err)
	}

	if info.IsDir() {
		return l.loadFromDirectory(ctx, path)
	}

	return l.loadFromFile(path)
}

// loadFromDirectory loads all rule files from a directory recursively.
func (l *Loader) loadFromDirectory(ctx context.Context, dirPath string) ([]*engine.Rule, error) {
	var rules []*engine.Rule

	err := filepath.WalkDir(dirPath, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			return nil
		}

		if !ruleFile(path) {
			return nil
		}

		fileRules, err := l.loadFromFile(path)
		if err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("Failed to load rule file")
			return nil // Continue processing other files
		}

		rules = append(rules, fileRules...)
		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to walk directory: %w", err)
	}

	return rules, nil
}

// loadFromFile loads and converts a single rule file.
func (l *Loader) loadFromFile(filePath string) ([]*engine.Rule, error) {
	doc, err := l.document(filePath)
	if err != nil {
		return nil, err
	}
	return l.Rules(doc)
}

// document returns the parsed document for a file, from cache when present.
func (l *Loader) document(filePath string) (*Document, error) {
	l.mu.RLock()
	if cached, exists := l.cache[filePath]; exists {
		l.mu.RUnlock()
		return cached, nil
	}
	l.mu.RUnlock()

	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var doc *Document
	switch {
	case strings.HasSuffix(filePath, ".yaml"), strings.HasSuffix(filePath, ".yml"):
		doc, err = l.Parse(data)
	case strings.HasSuffix(filePath, ".json"):
		doc, err = l.ParseJSON(data)
	default:
		return nil, fmt.Errorf("unsupported file type: %s", filePath)
	}
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.cache[filePath] = doc
	l.mu.Unlock()

	l.logger.Debug().
		Str("path", filePath).
		Str("document", doc.Name).
		Int("rules", len(doc.Rules)).
		Msg("Rule document loaded from file")

	return doc, nil
}

// ClearCache clears the parsed-document cache.
func (l *Loader) ClearCache() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.cache = make(map[string]*Document)
	l.logger.Debug().Msg("Rule document cache cleared")
}

// ruleFile reports whether a path looks like a rule document.
func ruleFile(path string) bool {
	return strings.HasSuffix(path, ".yaml") ||
		strings.HasSuffix(path, ".yml") ||
		strings.HasSuffix(path, ".json")
}
