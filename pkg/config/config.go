// Package config provides INI-style machine configuration parsing with
// access tracking, include directives and typed getters.
package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Config provides access to a configuration file with access tracking.
type Config struct {
	mu       sync.RWMutex
	sections map[string]*Section
	order    []string
	dir      string

	accessedSections map[string]struct{}
}

// New creates a new empty Config.
func New() *Config {
	return &Config{
		sections:         make(map[string]*Section),
		accessedSections: make(map[string]struct{}),
	}
}

// Load reads a configuration file. [include glob] headers pull in other
// files relative to the including file.
func Load(path string) (*Config, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("config: invalid path %s: %w", path, err)
	}
	c := New()
	c.dir = filepath.Dir(abs)
	if err := c.parseFile(abs, make(map[string]bool)); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadString parses a configuration from a string. Include headers are
// resolved against the working directory.
func LoadString(data string) (*Config, error) {
	c := New()
	c.dir = "."
	if err := c.parse(strings.NewReader(data), "<string>", c.dir, make(map[string]bool)); err != nil {
		return nil, err
	}
	return c, nil
}

// Dir returns the directory relative paths in option values resolve against.
func (c *Config) Dir() string {
	return c.dir
}

// ResolvePath makes p absolute relative to the config directory.
func (c *Config) ResolvePath(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.dir, p)
}

func (c *Config) parseFile(abs string, visited map[string]bool) error {
	if visited[abs] {
		return fmt.Errorf("config: recursive include: %s", abs)
	}
	visited[abs] = true
	defer func() { visited[abs] = false }()

	f, err := os.Open(abs)
	if err != nil {
		return fmt.Errorf("config: unable to open %s: %w", abs, err)
	}
	defer f.Close()
	return c.parse(f, abs, filepath.Dir(abs), visited)
}

// parse reads sections from r. Options before the first header are ignored.
func (c *Config) parse(r io.Reader, name, dir string, visited map[string]bool) error {
	var section string
	var options map[string]string
	flush := func() {
		if section != "" {
			c.addSection(section, options)
		}
	}

	scanner := bufio.NewScanner(r)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := stripComment(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			flush()
			header := strings.Join(strings.Fields(line[1:len(line)-1]), " ")
			if header == "" {
				return fmt.Errorf("config: empty section header at line %d in %s", lineNum, name)
			}
			if spec, ok := strings.CutPrefix(header, "include "); ok {
				if err := c.include(dir, spec, visited); err != nil {
					return fmt.Errorf("config: %s line %d: %w", name, lineNum, err)
				}
				section, options = "", nil
				continue
			}
			section = strings.ToLower(header)
			options = make(map[string]string)
			continue
		}

		if section == "" {
			continue
		}
		key, value, ok := splitOption(line)
		if !ok {
			return fmt.Errorf("config: malformed option %q at line %d in %s", line, lineNum, name)
		}
		options[key] = value
	}
	flush()

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("config: error reading %s: %w", name, err)
	}
	return nil
}

func (c *Config) include(dir, spec string, visited map[string]bool) error {
	pattern := filepath.Join(dir, spec)
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return fmt.Errorf("invalid include pattern %q: %w", spec, err)
	}
	if len(matches) == 0 && !strings.ContainsAny(pattern, "*?[") {
		return fmt.Errorf("include file does not exist: %s", pattern)
	}
	sort.Strings(matches)
	for _, m := range matches {
		if err := c.parseFile(m, visited); err != nil {
			return err
		}
	}
	return nil
}

// stripComment removes '#' and ';' comments and surrounding whitespace.
func stripComment(line string) string {
	if idx := strings.IndexAny(line, "#;"); idx >= 0 {
		line = line[:idx]
	}
	return strings.TrimSpace(line)
}

// splitOption splits "key: value" or "key = value" at the first separator.
func splitOption(line string) (string, string, bool) {
	idx := strings.IndexAny(line, ":=")
	if idx <= 0 {
		return "", "", false
	}
	key := strings.ToLower(strings.TrimSpace(line[:idx]))
	if key == "" {
		return "", "", false
	}
	return key, strings.TrimSpace(line[idx+1:]), true
}

// addSection adds a section, merging options into an existing one.
func (c *Config) addSection(name string, options map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.sections[name]; ok {
		for k, v := range options {
			existing.options[k] = v
		}
		return
	}
	c.sections[name] = newSection(name, options)
	c.order = append(c.order, name)
}

// GetSection returns a Section by name, or a ConfigError if missing.
func (c *Config) GetSection(name string) (*Section, error) {
	if sec := c.GetSectionOptional(name); sec != nil {
		return sec, nil
	}
	return nil, ErrMissingSection(name)
}

// GetSectionOptional returns a Section if it exists, or nil.
func (c *Config) GetSectionOptional(name string) *Section {
	name = strings.ToLower(name)
	c.mu.Lock()
	defer c.mu.Unlock()

	sec, ok := c.sections[name]
	if ok {
		c.accessedSections[name] = struct{}{}
	}
	return sec
}

// Section returns the named section, or an empty section so callers can
// rely on fallbacks for every option.
func (c *Config) Section(name string) *Section {
	if sec := c.GetSectionOptional(name); sec != nil {
		return sec
	}
	return newSection(strings.ToLower(name), nil)
}

// HasSection checks if a section exists.
func (c *Config) HasSection(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.sections[strings.ToLower(name)]
	return ok
}

// SectionNames returns all section names in file order.
func (c *Config) SectionNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.order...)
}

// GetPrefixSections returns all sections whose name starts with prefix.
func (c *Config) GetPrefixSections(prefix string) []*Section {
	prefix = strings.ToLower(prefix)
	c.mu.Lock()
	defer c.mu.Unlock()

	var result []*Section
	for _, name := range c.order {
		if strings.HasPrefix(name, prefix) {
			c.accessedSections[name] = struct{}{}
			result = append(result, c.sections[name])
		}
	}
	return result
}

// UnusedSections returns the sections nothing asked for.
func (c *Config) UnusedSections() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var result []string
	for _, name := range c.order {
		if _, ok := c.accessedSections[name]; !ok {
			result = append(result, name)
		}
	}
	return result
}

// CheckUnused returns an error naming unused sections and options.
func (c *Config) CheckUnused() error {
	var problems []string
	if unused := c.UnusedSections(); len(unused) > 0 {
		problems = append(problems, fmt.Sprintf("unused sections %v", unused))
	}

	c.mu.RLock()
	for _, name := range c.order {
		if _, ok := c.accessedSections[name]; !ok {
			continue
		}
		if opts := c.sections[name].UnusedOptions(); len(opts) > 0 {
			problems = append(problems, fmt.Sprintf("[%s]: unused options %v", name, opts))
		}
	}
	c.mu.RUnlock()

	if len(problems) > 0 {
		return NewConfigError("", "", strings.Join(problems, "; "))
	}
	return nil
}
