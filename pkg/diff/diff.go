// Package diff partitions one catalog snapshot against a peer's into
// the four buckets the sync protocol reasons about, per spec §4.3:
// missing (peer lacks the file), shared (both have it but content
// differs), extra (the peer's manifest lists it, local does not have
// it, and it carries no special meaning), and extra_valid (same as
// extra, but the file's cluster_item_key marks its mere presence as
// policy-relevant, e.g. agent-groups membership files).
package diff

import "github.com/cuemby/wazuh-cluster/pkg/catalog"

// Bucket names a partition of the four-way diff.
type Bucket string

const (
	Missing    Bucket = "missing"
	Shared     Bucket = "shared"
	Extra      Bucket = "extra"
	ExtraValid Bucket = "extra_valid"
)

// Result holds one bucket's path set, each entry carrying enough of
// the authoritative (local) snapshot to drive a later compression or
// merge step.
type Result map[Bucket]map[string]catalog.Entry

// NewResult builds an empty four-bucket result.
func NewResult() Result {
	return Result{
		Missing:    make(map[string]catalog.Entry),
		Shared:     make(map[string]catalog.Entry),
		Extra:      make(map[string]catalog.Entry),
		ExtraValid: make(map[string]catalog.Entry),
	}
}

// IsEmpty reports whether every bucket is empty, the signal the
// integrity worker uses to short-circuit a sync round with no KO
// files (spec §4.3 edge case).
func (r Result) IsEmpty() bool {
	for _, bucket := range r {
		if len(bucket) > 0 {
			return false
		}
	}
	return true
}

// Compare partitions local against remote. local is this node's own
// authoritative snapshot; remote is the peer's manifest of
// {path: {mtime, md5, cluster_item_key}} as received over the wire,
// describing what the peer believes it already has.
//
// A path local has but the peer doesn't is "missing" (the peer needs
// it shipped). A path present in both is "shared" when the content
// differs (md5 mismatch) and dropped entirely when identical — the
// original spec only reports files that require action. A path the
// peer has but local doesn't recognize is "extra" unless its profile
// marks ExtraIsMeaningful, in which case it is "extra_valid".
func Compare(local catalog.Snapshot, remote catalog.Snapshot, extraIsMeaningful map[string]bool) Result {
	result := NewResult()

	for path, localEntry := range local {
		remoteEntry, ok := remote[path]
		if !ok {
			result[Missing][path] = localEntry
			continue
		}
		if remoteEntry.MD5 != localEntry.MD5 {
			result[Shared][path] = localEntry
		}
	}

	for path, remoteEntry := range remote {
		if _, ok := local[path]; !ok {
			if extraIsMeaningful[remoteEntry.ClusterItemKey] {
				result[ExtraValid][path] = remoteEntry
			} else {
				result[Extra][path] = remoteEntry
			}
		}
	}

	return result
}

// PathsFor collects the local-snapshot paths named by shared and
// missing — the two buckets whose content actually needs shipping to
// the peer.
func PathsFor(result Result, buckets ...Bucket) []string {
	var out []string
	for _, b := range buckets {
		for path := range result[b] {
			out = append(out, path)
		}
	}
	return out
}
