//go:build !no_automation

package automation

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ScriptMeta is the optional JSON header on the first line of a script:
//
//	-- {"name": "Porch light", "enabled": true}
type ScriptMeta struct {
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
}

// Script is one automation script loaded from disk.
type Script struct {
	ID       string // filename stem (no .lua)
	Meta     ScriptMeta
	LuaCode  string
	FilePath string
}

// Loader reads automation scripts from a directory.
type Loader struct {
	dir    string
	logger *slog.Logger
}

// NewLoader creates a loader rooted at dir, creating it if needed.
func NewLoader(dir string, logger *slog.Logger) (*Loader, error) {
	if dir == "" {
		return nil, fmt.Errorf("scripts dir is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create scripts dir: %w", err)
	}
	return &Loader{dir: dir, logger: logger.With("component", "automation")}, nil
}

// Dir returns the scripts directory.
func (l *Loader) Dir() string { return l.dir }

// List returns every *.lua script in the directory, sorted by ID.
// Unreadable files are skipped.
func (l *Loader) List() ([]*Script, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("read scripts dir: %w", err)
	}

	var scripts []*Script
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".lua") {
			continue
		}
		s, err := l.parseFile(filepath.Join(l.dir, e.Name()))
		if err != nil {
			l.logger.Warn("skip unreadable script", "file", e.Name(), "err", err)
			continue
		}
		scripts = append(scripts, s)
	}
	sort.Slice(scripts, func(i, j int) bool { return scripts[i].ID < scripts[j].ID })
	return scripts, nil
}

func (l *Loader) parseFile(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	s, err := parseScript(strings.TrimSuffix(filepath.Base(path), ".lua"), path, string(data))
	if err != nil {
		l.logger.Warn("script metadata parse error", "file", path, "err", err)
	}
	return s, nil
}

// parseScript splits the optional metadata header from the Lua code.
// Scripts without a header, or whose header omits "enabled", are enabled.
// A malformed header is reported but the script is still returned.
func parseScript(id, path, content string) (*Script, error) {
	s := &Script{
		ID:       id,
		Meta:     ScriptMeta{Name: id, Enabled: true},
		FilePath: path,
		LuaCode:  content,
	}

	first, rest, _ := strings.Cut(content, "\n")
	if !strings.HasPrefix(first, "-- {") {
		return s, nil
	}
	err := json.Unmarshal([]byte(strings.TrimPrefix(first, "-- ")), &s.Meta)
	if s.Meta.Name == "" {
		s.Meta.Name = id
	}
	s.LuaCode = strings.TrimLeft(rest, "\n")
	return s, err
}
