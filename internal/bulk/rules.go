package bulk

import (
	"sort"
	"strings"

	"github.com/kimvales/vaultsync/internal/task"
)

// ReservedSyncFile is the sync-metadata file maintained inside the vault.
// It must never be synced as a document.
const ReservedSyncFile = ".vaultsync/sync.json"

// ExclusionRules filters vault paths out of a bulk run.
type ExclusionRules struct {
	// Folders excludes any path under one of these folder prefixes.
	Folders []string
	// Extensions excludes paths with one of these extensions (with dot).
	Extensions []string
	// FilenamePrefixes excludes files whose base name starts with one of
	// these prefixes.
	FilenamePrefixes []string
	// Filenames excludes exact base names.
	Filenames []string
}

// Excluded reports whether path is filtered out of bulk processing.
func (r ExclusionRules) Excluded(path string) bool {
	if path == ReservedSyncFile {
		return true
	}

	for _, folder := range r.Folders {
		prefix := strings.TrimSuffix(folder, "/") + "/"
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}

	name := path
	if i := strings.LastIndex(path, "/"); i >= 0 {
		name = path[i+1:]
	}

	for _, ext := range r.Extensions {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	for _, prefix := range r.FilenamePrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	for _, exact := range r.Filenames {
		if name == exact {
			return true
		}
	}
	return false
}

// PriorityRule assigns a priority to paths containing Pattern.
type PriorityRule struct {
	Pattern  string
	Priority int
}

// filePriority returns the priority of the first matching rule, or 1 when
// none match. Patterns are plain substring matches against the path.
func filePriority(path string, rules []PriorityRule) int {
	for _, r := range rules {
		if strings.Contains(path, r.Pattern) {
			return r.Priority
		}
	}
	return 1
}

// orderFiles applies the exclusion filter and sorts the survivors by
// descending rule priority. Relative order among equal priorities is not
// part of the contract.
func orderFiles(files []string, exclude ExclusionRules, rules []PriorityRule) []string {
	kept := make([]string, 0, len(files))
	for _, f := range files {
		if !exclude.Excluded(f) {
			kept = append(kept, f)
		}
	}

	sort.SliceStable(kept, func(i, j int) bool {
		return filePriority(kept[i], rules) > filePriority(kept[j], rules)
	})
	return kept
}

// taskPriority maps a file's rule priority onto a queue priority tier.
func taskPriority(path string, rules []PriorityRule) task.Priority {
	return task.ClampRulePriority(filePriority(path, rules))
}
