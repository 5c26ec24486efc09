// Package listing turns an unordered batch of directory entries into the
// sequence the explorer displays.
package listing

import (
	"sort"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/Galax028/Bunsho/pkg/protocol"
)

// Order returns the entries with directories first and each group collated
// by name. Collation is locale-aware, so accented names sort next to their
// unaccented forms instead of after "z". The sort is stable: entries with
// equal names keep their original batch order. The input slice is not
// modified.
func Order(entries []protocol.DirectoryEntry) []protocol.DirectoryEntry {
	dirs := make([]protocol.DirectoryEntry, 0, len(entries))
	files := make([]protocol.DirectoryEntry, 0, len(entries))
	for _, e := range entries {
		if e.IsDirectory {
			dirs = append(dirs, e)
		} else {
			files = append(files, e)
		}
	}

	// A Collator is not safe for concurrent use, so build one per call.
	coll := collate.New(language.Und)
	byName := func(group []protocol.DirectoryEntry) {
		sort.SliceStable(group, func(i, j int) bool {
			return coll.CompareString(group[i].Name, group[j].Name) < 0
		})
	}
	byName(dirs)
	byName(files)

	return append(dirs, files...)
}
