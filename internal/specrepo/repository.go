// internal/specrepo/repository.go
package specrepo

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"
)

// DefaultGlobs selects every specification file under the project root.
var DefaultGlobs = []string{"**/*.feature"}

// listTTL is how long a file listing is reused when no watcher is running.
const listTTL = 5 * time.Second

// skipDirs are never searched for specification files.
var skipDirs = map[string]bool{
	".git": true, ".idea": true, ".gradle": true, "node_modules": true,
	"target": true, "build": true, "out": true, "vendor": true,
}

// ErrNotFound is returned by Read for paths outside the repository.
var ErrNotFound = errors.New("specification file not found")

// Match is the result of FindStep.
type Match struct {
	Document *Document
	Block    *Block
	Step     Step
}

type cachedDoc struct {
	doc     *Document
	modTime time.Time
	size    int64
}

// Repository gives read-only access to the project's specification files.
// Parsed documents are cached and revalidated by modification time and size.
type Repository struct {
	logger *zap.Logger
	root   string
	globs  []string

	mu       sync.RWMutex
	docs     map[string]cachedDoc
	files    []string
	listedAt time.Time
	listGen  uint64
	watching bool

	now func() time.Time
}

// New creates a repository rooted at root.
func New(logger *zap.Logger, root string, globs []string) *Repository {
	if len(globs) == 0 {
		globs = DefaultGlobs
	}
	return &Repository{
		logger: logger.Named("specrepo"),
		root:   root,
		globs:  append([]string(nil), globs...),
		docs:   make(map[string]cachedDoc),
		now:    time.Now,
	}
}

// Root returns the directory files are discovered under.
func (r *Repository) Root() string { return r.root }

// Files returns the absolute paths of every specification file, sorted.
func (r *Repository) Files() ([]string, error) {
	r.mu.RLock()
	fresh := r.files != nil && (r.watching || r.now().Sub(r.listedAt) < listTTL)
	files, gen := r.files, r.listGen
	r.mu.RUnlock()
	if fresh {
		return files, nil
	}

	files, err := r.list()
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	// A listing that raced with an invalidation is returned but not kept.
	if r.listGen == gen {
		r.files = files
		r.listedAt = r.now()
	}
	r.mu.Unlock()
	return files, nil
}

func (r *Repository) list() ([]string, error) {
	fsys := os.DirFS(r.root)
	seen := make(map[string]bool)
	var out []string
	for _, pattern := range r.globs {
		pattern = filepath.ToSlash(pattern)
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid spec glob %q", pattern)
		}
		err := doublestar.GlobWalk(fsys, pattern, func(path string, d os.DirEntry) error {
			if d.IsDir() {
				return nil
			}
			if skipped(path) {
				return nil
			}
			abs := filepath.Join(r.root, filepath.FromSlash(path))
			if !seen[abs] {
				seen[abs] = true
				out = append(out, abs)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("glob %q under %s: %w", pattern, r.root, err)
		}
	}
	sort.Strings(out)
	return out, nil
}

func skipped(rel string) bool {
	for _, part := range strings.Split(rel, "/") {
		if skipDirs[part] {
			return true
		}
	}
	return false
}

// Read returns the full text of the specification file at path.
func (r *Repository) Read(path string) (string, error) {
	doc, err := r.Document(path)
	if err != nil {
		return "", err
	}
	return doc.Content, nil
}

// Document returns the parsed file at path, reparsing it if it changed on
// disk since it was cached.
func (r *Repository) Document(path string) (*Document, error) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(r.root, path)
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	r.mu.RLock()
	cached, ok := r.docs[path]
	r.mu.RUnlock()
	if ok && cached.modTime.Equal(info.ModTime()) && cached.size == info.Size() {
		return cached.doc, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	doc := ParseDocument(path, content)
	if !doc.Structured {
		r.logger.Debug("Gherkin parser rejected file; using line scanner.", zap.String("path", path))
	}

	r.mu.Lock()
	r.docs[path] = cachedDoc{doc: doc, modTime: info.ModTime(), size: info.Size()}
	r.mu.Unlock()
	return doc, nil
}

// invalidate drops cached state for path. Directory-level changes also drop
// the file listing.
func (r *Repository) invalidate(path string, listing bool) {
	r.mu.Lock()
	delete(r.docs, path)
	if listing {
		r.files = nil
		r.listGen++
	}
	r.mu.Unlock()
}

// FindStep locates the scenario whose steps contain stepText. When several
// scenarios match, one named nameHint is preferred; otherwise the first in
// file order wins. Background steps match too, attributed to the first
// scenario that shares the background.
func (r *Repository) FindStep(stepText, nameHint string) (*Match, bool) {
	stepText = normalize(stepText)
	if stepText == "" {
		return nil, false
	}
	hint := normalize(nameHint)

	files, err := r.Files()
	if err != nil {
		r.logger.Debug("Listing specification files failed.", zap.Error(err))
		return nil, false
	}

	var first *Match
	for _, path := range files {
		doc, err := r.Document(path)
		if err != nil {
			r.logger.Debug("Skipping unreadable specification file.", zap.String("path", path), zap.Error(err))
			continue
		}
		for _, b := range doc.Blocks {
			step, ok := findInBlock(b, stepText)
			if !ok {
				continue
			}
			m := &Match{Document: doc, Block: b, Step: step}
			if hint == "" || normalize(b.Name) == hint {
				return m, true
			}
			if first == nil {
				first = m
			}
		}
	}
	return first, first != nil
}

func findInBlock(b *Block, stepText string) (Step, bool) {
	for _, s := range b.Steps {
		if StepMatches(s.Text, stepText) {
			return s, true
		}
	}
	for _, s := range b.Background {
		if StepMatches(s.Text, stepText) {
			return s, true
		}
	}
	return Step{}, false
}

var exampleSuffix = regexp.MustCompile(`\s*\(Example #\d+\.\d+\)\s*$`)

// BaseScenarioName removes a trailing outline example identifier.
func BaseScenarioName(name string) string {
	return exampleSuffix.ReplaceAllString(name, "")
}
