// internal/navigator/spec.go
package navigator

import (
	"strings"

	"go.uber.org/zap"
)

// SpecNavigator resolves positions in specification (.feature) files to the
// text of the line itself.
type SpecNavigator struct {
	logger *zap.Logger
	cache  *fileCache
}

// NewSpecNavigator creates a navigator for specification files.
func NewSpecNavigator(logger *zap.Logger, cache *fileCache) *SpecNavigator {
	if cache == nil {
		cache = newFileCache(0)
	}
	return &SpecNavigator{logger: logger.Named("spec"), cache: cache}
}

// Locate implements Navigator.
func (n *SpecNavigator) Locate(path string, line int) (Declaration, bool) {
	v, err := n.cache.load("spec", path, func(content []byte) (any, error) {
		return strings.Split(strings.ReplaceAll(string(content), "\r\n", "\n"), "\n"), nil
	})
	if err != nil {
		n.logger.Debug("Specification file unavailable.", zap.String("path", path), zap.Error(err))
		return Declaration{}, false
	}
	lines := v.([]string)
	if line < 1 || line > len(lines) {
		return Declaration{}, false
	}
	text := strings.TrimSpace(lines[line-1])
	if text == "" {
		return Declaration{}, false
	}
	return Declaration{
		Kind:      KindSpecLine,
		FilePath:  path,
		StartLine: line,
		EndLine:   line,
		LineText:  text,
	}, true
}
