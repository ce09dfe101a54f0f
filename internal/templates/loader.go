package templates

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"text/template"

	"gopkg.in/yaml.v3"
)

// Loader resolves templates from override directories first and the
// embedded set second, caching parsed templates.
type Loader struct {
	overrideDirs []string // checked in priority order
	cache        map[string]*template.Template
	metaCache    map[string]*Meta
	mu           sync.RWMutex
}

// Meta holds frontmatter metadata for a template.
type Meta struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// NewLoader creates a loader with the given override directories.
// Directories are checked in order; first match wins.
func NewLoader(overrideDirs ...string) *Loader {
	return &Loader{
		overrideDirs: overrideDirs,
		cache:        make(map[string]*template.Template),
		metaCache:    make(map[string]*Meta),
	}
}

// DefaultLoader creates a loader with standard override paths:
// 1. Project-local: .sweep-orch/templates/
// 2. User config: ~/.config/sweep-orch/templates/
func DefaultLoader(projectRoot string) *Loader {
	home, _ := os.UserHomeDir()
	dirs := []string{}

	if projectRoot != "" {
		dirs = append(dirs, filepath.Join(projectRoot, ".sweep-orch", "templates"))
	}
	dirs = append(dirs, filepath.Join(home, ".config", "sweep-orch", "templates"))

	return NewLoader(dirs...)
}

// loadContent loads raw content from override dirs or the embedded FS.
func (l *Loader) loadContent(path string) ([]byte, error) {
	for _, dir := range l.overrideDirs {
		fullPath := filepath.Join(dir, path)
		if data, err := os.ReadFile(fullPath); err == nil {
			return data, nil
		}
	}
	return fs.ReadFile(embeddedFS, path)
}

// parseFrontmatter splits content into frontmatter and body. The rendered
// output never contains the frontmatter, which keeps generated job scripts
// valid shell.
func parseFrontmatter(content []byte) (*Meta, string, error) {
	str := string(content)

	if !strings.HasPrefix(str, "---\n") {
		return nil, str, nil
	}

	end := strings.Index(str[4:], "\n---\n")
	if end == -1 {
		return nil, str, nil
	}

	frontmatter := str[4 : 4+end]
	body := str[4+end+5:]

	var meta Meta
	if err := yaml.Unmarshal([]byte(frontmatter), &meta); err != nil {
		return nil, "", fmt.Errorf("parse frontmatter: %w", err)
	}

	return &meta, body, nil
}

// Load loads and parses a template by path (e.g., "slurm/job.sh.tmpl").
func (l *Loader) Load(path string) (*template.Template, *Meta, error) {
	l.mu.RLock()
	if tmpl, ok := l.cache[path]; ok {
		meta := l.metaCache[path]
		l.mu.RUnlock()
		return tmpl, meta, nil
	}
	l.mu.RUnlock()

	content, err := l.loadContent(path)
	if err != nil {
		return nil, nil, fmt.Errorf("load %s: %w", path, err)
	}

	meta, body, err := parseFrontmatter(content)
	if err != nil {
		return nil, nil, fmt.Errorf("parse %s: %w", path, err)
	}

	tmpl, err := template.New(path).Parse(body)
	if err != nil {
		return nil, nil, fmt.Errorf("compile template %s: %w", path, err)
	}

	l.mu.Lock()
	l.cache[path] = tmpl
	l.metaCache[path] = meta
	l.mu.Unlock()

	return tmpl, meta, nil
}

// Execute loads and executes a template with the given data.
func (l *Loader) Execute(path string, data interface{}) (string, error) {
	tmpl, _, err := l.Load(path)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("execute %s: %w", path, err)
	}

	return buf.String(), nil
}

// List returns metadata for every embedded template under a directory.
func (l *Loader) List(dir string) ([]*Meta, error) {
	entries, err := fs.ReadDir(embeddedFS, dir)
	if err != nil {
		return nil, err
	}

	var result []*Meta
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".tmpl") {
			continue
		}
		path := dir + "/" + entry.Name()
		_, meta, err := l.Load(path)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
		if meta != nil {
			result = append(result, meta)
		}
	}

	return result, nil
}

// JobData holds template variables for cluster job scripts.
type JobData struct {
	JobName   string
	LogPath   string
	Account   string
	Partition string
	Nodes     int
	NTasks    int
	TimeLimit string
	MemPerCPU string
	Mail      string
	WorkDir   string
	Command   string
}

// BuildJobScript renders the Slurm job script for one solver run.
func (l *Loader) BuildJobScript(data JobData) (string, error) {
	return l.Execute("slurm/job.sh.tmpl", data)
}

// ClearCache clears the template cache (useful for development/testing).
func (l *Loader) ClearCache() {
	l.mu.Lock()
	l.cache = make(map[string]*template.Template)
	l.metaCache = make(map[string]*Meta)
	l.mu.Unlock()
}

// Global default loader (initialized lazily)
var (
	defaultLoader     *Loader
	defaultLoaderOnce sync.Once
)

// GetDefaultLoader returns the global default loader.
func GetDefaultLoader() *Loader {
	defaultLoaderOnce.Do(func() {
		defaultLoader = DefaultLoader("")
	})
	return defaultLoader
}
