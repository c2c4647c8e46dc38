// Package packedstore implements the two packed-storage layers described in
// spec.md §4.5-4.7: AppendPacked, which multiplexes small string blobs by byte
// offset into shared container blobs, and JsonPacked, which multiplexes them as
// values of a JSON object per container. Both persist a master index and are
// grounded on the teacher's store_repository.go (in_memory: a lazily-populated
// lookup map guarding a small backing structure) generalized to two physical
// container layouts, plus common/two_phase_commit_transaction.go's habit of
// treating a corrupt secondary structure as a recoverable, logged condition
// rather than a hard failure.
package packedstore

import (
	"path"
	"sort"
	"strings"

	log "log/slog"

	store "github.com/sharedcode/objectstore"
)

// Options configures either packed-storage variant.
type Options struct {
	// Root is a path prefix prepended to every container key and the master key.
	Root string
	// MasterKey overrides the conventional master key name when non-empty.
	MasterKey string
}

func joinRoot(root, name string) string {
	if root == "" {
		return name
	}
	return path.Join(root, name)
}

func newContainerKey(root string) store.Key {
	return joinRoot(root, store.NewUUID().String())
}

func filterList(keys []store.Key, opts store.ListOptions) []store.Key {
	sort.Strings(keys)
	out := make([]store.Key, 0, len(keys))
	for _, k := range keys {
		if opts.Prefix != "" && !strings.HasPrefix(k, opts.Prefix) {
			continue
		}
		out = append(out, k)
	}
	if opts.EarlyStop == nil {
		return out
	}
	stopped := out[:0:0]
	for _, k := range out {
		if !opts.EarlyStop(k) {
			break
		}
		stopped = append(stopped, k)
	}
	return stopped
}

func warnCorruptContainer(containerKey store.Key, err error) {
	log.Warn("packed container body failed to parse, treating as empty", "container", containerKey, "error", err)
}
