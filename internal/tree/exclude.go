package tree

import (
	"path"
	"strings"
)

// shouldExclude matches a slash separated relative path against exclusion
// patterns. Patterns ending in "/" match any path segment; other patterns
// match the base name, or the whole path when they contain a "/".
func shouldExclude(relPath string, exclusions []string) bool {
	for _, pattern := range exclusions {
		// Handle directory exclusions (patterns ending with /)
		if strings.HasSuffix(pattern, "/") {
			dirPattern := strings.TrimSuffix(pattern, "/")
			for _, part := range strings.Split(relPath, "/") {
				if matched, _ := path.Match(dirPattern, part); matched || part == dirPattern {
					return true
				}
			}
			continue
		}

		if matched, err := path.Match(pattern, path.Base(relPath)); err == nil && matched {
			return true
		}
		if strings.Contains(pattern, "/") {
			if matched, err := path.Match(pattern, relPath); err == nil && matched {
				return true
			}
		}
	}
	return false
}
