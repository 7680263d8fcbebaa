package rules

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/dataagent-ai/dataagent/internal/logging"
)

// Store is the rule storage interface.
type Store interface {
	// ListRules returns all rules, optionally filtered by scope.
	ListRules(scope *Scope) []*Rule

	// GetRule looks a rule up by name. With a nil scope, scopes are
	// searched in priority order: project > user > global.
	GetRule(name string, scope *Scope) *Rule

	// SaveRule persists a rule into its scope.
	SaveRule(rule *Rule) error

	// DeleteRule removes a rule. Returns true if it existed.
	DeleteRule(name string, scope Scope) (bool, error)

	// Reload refreshes the store from its backing storage. A single bad
	// file does not block the reload; it is logged and omitted.
	Reload() error
}

// searchOrder is the scope lookup order when no scope is given.
var searchOrder = []Scope{ScopeProject, ScopeUser, ScopeGlobal}

// FileStore stores rules as Markdown files, one directory per scope.
// Unconfigured scopes have an empty directory path.
type FileStore struct {
	globalDir  string
	userDir    string
	projectDir string

	parser *Parser

	mu     sync.RWMutex
	cache  map[string]*Rule
	loaded bool

	watcher *fsnotify.Watcher
}

// NewFileStore creates a file-backed rule store. Empty directory paths
// leave the corresponding scope unconfigured.
func NewFileStore(globalDir, userDir, projectDir string) *FileStore {
	return &FileStore{
		globalDir:  globalDir,
		userDir:    userDir,
		projectDir: projectDir,
		parser:     NewParser(),
		cache:      make(map[string]*Rule),
	}
}

func (s *FileStore) ensureLoaded() {
	s.mu.RLock()
	loaded := s.loaded
	s.mu.RUnlock()
	if !loaded {
		_ = s.Reload()
	}
}

// ListRules returns all cached rules, optionally filtered by scope.
func (s *FileStore) ListRules(scope *Scope) []*Rule {
	s.ensureLoaded()

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Rule
	for _, rule := range s.cache {
		if scope == nil || rule.Scope == *scope {
			out = append(out, rule)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// GetRule looks up a rule by name.
func (s *FileStore) GetRule(name string, scope *Scope) *Rule {
	s.ensureLoaded()

	s.mu.RLock()
	defer s.mu.RUnlock()

	if scope != nil {
		return s.cache[string(*scope)+":"+name]
	}
	for _, sc := range searchOrder {
		if rule, ok := s.cache[string(sc)+":"+name]; ok {
			return rule
		}
	}
	return nil
}

// SaveRule writes a rule file into its scope directory.
func (s *FileStore) SaveRule(rule *Rule) error {
	dir := s.dirForScope(rule.Scope)
	if dir == "" {
		return fmt.Errorf("no directory configured for scope: %s", rule.Scope)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create rules directory: %w", err)
	}

	path := filepath.Join(dir, rule.Name+".md")
	if err := os.WriteFile(path, []byte(renderRuleFile(rule)), 0o644); err != nil {
		return fmt.Errorf("write rule file: %w", err)
	}
	logging.Info().Str("rule", rule.Name).Str("path", path).Msg("saved rule")

	s.mu.Lock()
	rule.SourcePath = path
	s.cache[rule.Key()] = rule
	s.mu.Unlock()
	return nil
}

// DeleteRule removes a rule file.
func (s *FileStore) DeleteRule(name string, scope Scope) (bool, error) {
	dir := s.dirForScope(scope)
	if dir == "" {
		return false, nil
	}

	path := filepath.Join(dir, name+".md")
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}

	if err := os.Remove(path); err != nil {
		return false, err
	}
	logging.Info().Str("rule", name).Str("path", path).Msg("deleted rule")

	s.mu.Lock()
	delete(s.cache, string(scope)+":"+name)
	s.mu.Unlock()
	return true, nil
}

// Reload rescans all scope directories.
func (s *FileStore) Reload() error {
	fresh := make(map[string]*Rule)

	for _, entry := range []struct {
		scope Scope
		dir   string
	}{
		{ScopeGlobal, s.globalDir},
		{ScopeUser, s.userDir},
		{ScopeProject, s.projectDir},
	} {
		if entry.dir == "" {
			continue
		}
		for _, rule := range s.loadDir(entry.dir, entry.scope) {
			fresh[rule.Key()] = rule
		}
	}

	s.mu.Lock()
	s.cache = fresh
	s.loaded = true
	s.mu.Unlock()

	logging.Debug().Int("rules", len(fresh)).Msg("reloaded rule store")
	return nil
}

func (s *FileStore) loadDir(dir string, scope Scope) []*Rule {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	var out []*Rule
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		rule, err := s.parser.ParseFile(path, scope)
		if err != nil {
			logging.Warn().Err(err).Str("path", path).Msg("failed to parse rule file")
			continue
		}
		if rule != nil {
			out = append(out, rule)
		}
	}
	return out
}

// Watch starts an fsnotify watcher that reloads the store when any
// configured scope directory changes. Call Close to stop it.
func (s *FileStore) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	for _, dir := range []string{s.globalDir, s.userDir, s.projectDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			continue
		}
		if err := watcher.Add(dir); err != nil {
			logging.Warn().Err(err).Str("dir", dir).Msg("failed to watch rules directory")
		}
	}

	s.watcher = watcher
	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if strings.HasSuffix(ev.Name, ".md") {
					_ = s.Reload()
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return nil
}

// Close stops the directory watcher, if running.
func (s *FileStore) Close() error {
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}

// RulePath returns the file path a rule of the given name and scope
// would live at, or empty when the scope has no directory.
func (s *FileStore) RulePath(name string, scope Scope) string {
	dir := s.dirForScope(scope)
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, name+".md")
}

func (s *FileStore) dirForScope(scope Scope) string {
	switch scope {
	case ScopeGlobal:
		return s.globalDir
	case ScopeUser:
		return s.userDir
	case ScopeProject:
		return s.projectDir
	}
	return ""
}

// renderRuleFile serializes a rule back to its file representation.
func renderRuleFile(rule *Rule) string {
	lines := []string{
		"---",
		"name: " + rule.Name,
		"description: " + rule.Description,
		"inclusion: " + string(rule.Inclusion),
	}

	if rule.FileMatchPattern != "" {
		lines = append(lines, "fileMatchPattern: "+rule.FileMatchPattern)
	}
	if rule.Priority != 50 {
		lines = append(lines, fmt.Sprintf("priority: %d", rule.Priority))
	}
	if rule.Override {
		lines = append(lines, "override: true")
	}
	if !rule.Enabled {
		lines = append(lines, "enabled: false")
	}

	lines = append(lines, "---", "", rule.Content)
	return strings.Join(lines, "\n")
}

// MemoryStore is an in-memory rule store, used in tests and for
// session-scope rules that never touch disk.
type MemoryStore struct {
	mu    sync.RWMutex
	rules map[string]*Rule
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rules: make(map[string]*Rule)}
}

func (s *MemoryStore) ListRules(scope *Scope) []*Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Rule
	for _, rule := range s.rules {
		if scope == nil || rule.Scope == *scope {
			out = append(out, rule)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

func (s *MemoryStore) GetRule(name string, scope *Scope) *Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if scope != nil {
		return s.rules[string(*scope)+":"+name]
	}
	for _, sc := range searchOrder {
		if rule, ok := s.rules[string(sc)+":"+name]; ok {
			return rule
		}
	}
	return nil
}

func (s *MemoryStore) SaveRule(rule *Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules[rule.Key()] = rule
	return nil
}

func (s *MemoryStore) DeleteRule(name string, scope Scope) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := string(scope) + ":" + name
	if _, ok := s.rules[key]; !ok {
		return false, nil
	}
	delete(s.rules, key)
	return true, nil
}

func (s *MemoryStore) Reload() error { return nil }

// Clear drops all rules.
func (s *MemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = make(map[string]*Rule)
}
