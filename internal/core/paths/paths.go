// Package paths selects the source directories a backup run should create
// jobs for, and assigns each one a scheduling priority.
package paths

import (
	"os"
	"path/filepath"
	"strings"
)

// orderedSubdirs is the fixed, ordered list of subdirectory names the
// scheduler looks for under the data tree. A name's position in this list
// determines its priority: library is 1, upload is 2, and so on, whether or
// not the names before it exist on disk.
var orderedSubdirs = []string{"library", "upload", "profile", "backups"}

// priorityKeywords extends orderedSubdirs with the keyword that classifies
// the data directory itself ("local"), for ForPath's substring match. A
// plain data-tree root is conventionally named "data", so that's the token
// matched rather than the word "local".
var priorityKeywords = append(append([]string{}, orderedSubdirs...), "data")

// defaultPriority is assigned to any path that matches none of the known
// subdirectory names.
const defaultPriority = 99

// SourcePath is one directory the scheduler should back up, paired with its
// scheduling priority.
type SourcePath struct {
	Path     string
	Priority int
}

// Discover enumerates the existence of orderedSubdirs under dataDir and
// appends dataDir itself as one additional local path, in the order the spec
// calls "local". Only directories that actually exist are returned.
func Discover(dataDir string) []SourcePath {
	var found []SourcePath
	for i, name := range orderedSubdirs {
		candidate := filepath.Join(dataDir, name)
		if isDir(candidate) {
			found = append(found, SourcePath{Path: candidate, Priority: i + 1})
		}
	}
	if isDir(dataDir) {
		found = append(found, SourcePath{Path: dataDir, Priority: len(orderedSubdirs) + 1})
	}
	return found
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// ForPath infers the priority a path would receive based on a
// case-insensitive substring match against the known subdirectory names,
// independent of whether the path exists on disk. Used for tests and for
// classifying paths discovered outside of Discover.
func ForPath(path string) int {
	lower := strings.ToLower(path)
	for i, name := range priorityKeywords {
		if strings.Contains(lower, name) {
			return i + 1
		}
	}
	return defaultPriority
}
