// Package syncworker implements the three sync worker state machines a
// connected client drives over its cluster connection: integrity
// (master compares its catalog against the client's and pushes what's
// missing or different), agent-info (client pushes its agent status
// database up), and extra-valid (client pushes its agent-groups
// membership files up). Each is built as a clusterserver.WorkerFunc, so
// the transport and permit bookkeeping stay entirely in pkg/clusterserver
// and this package only ever sees the narrow WorkerContext capability
// set (spec §4.7, §9's "workers own only channels/handles").
package syncworker

import (
	"os"

	"github.com/cuemby/wazuh-cluster/pkg/catalog"
	"github.com/cuemby/wazuh-cluster/pkg/clustercfg"
	"github.com/cuemby/wazuh-cluster/pkg/fileupdate"
)

// CatalogProfiles translates the configured cluster_items policy table
// into the scan profiles pkg/catalog walks.
func CatalogProfiles(items []clustercfg.ClusterItem) []catalog.ItemProfile {
	profiles := make([]catalog.ItemProfile, 0, len(items))
	for _, it := range items {
		profiles = append(profiles, catalog.ItemProfile{
			Key:               it.Key,
			Root:              it.Root,
			Recursive:         it.Recursive,
			ExtraIsMeaningful: it.ExtraIsMeaningful,
		})
	}
	return profiles
}

// ExtraIsMeaningful builds the cluster_item_key -> bool map diff.Compare
// needs from the same policy table.
func ExtraIsMeaningful(items []clustercfg.ClusterItem) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, it := range items {
		out[it.Key] = it.ExtraIsMeaningful
	}
	return out
}

// FileUpdatePolicies builds the cluster_item_key -> write policy map
// fileupdate.Updater.Apply needs from the configured table.
func FileUpdatePolicies(items []clustercfg.ClusterItem) map[string]fileupdate.ItemPolicy {
	out := make(map[string]fileupdate.ItemPolicy, len(items))
	for _, it := range items {
		mode := fileupdate.WriteAtomic
		if it.WriteMode == "direct" {
			mode = fileupdate.WriteDirect
		}
		out[it.Key] = fileupdate.ItemPolicy{Mode: mode, Umask: os.FileMode(it.Umask)}
	}
	return out
}

// AgentGroupsKey returns the cluster_item_key configured with
// merge_type "agent-groups", the profile the integrity worker must
// fold missing/shared entries for into one merged record stream
// instead of shipping them as individual archive entries (spec §4.7.1
// step 3).
func AgentGroupsKey(items []clustercfg.ClusterItem) (string, bool) {
	for _, it := range items {
		if it.MergeType == "agent-groups" {
			return it.Key, true
		}
	}
	return "", false
}

// AgentInfoKey returns the cluster_item_key configured with merge_type
// "agent-info", used by the agent-info worker to place applied records.
func AgentInfoKey(items []clustercfg.ClusterItem) (string, bool) {
	for _, it := range items {
		if it.MergeType == "agent-info" {
			return it.Key, true
		}
	}
	return "", false
}

// policyFor looks up one cluster_item_key's write policy, falling back
// to an atomic write with a conservative umask when the key is
// unconfigured (content the master has never heard of still has to
// land somewhere safely).
func policyFor(policies map[string]fileupdate.ItemPolicy, key string) fileupdate.ItemPolicy {
	if p, ok := policies[key]; ok {
		return p
	}
	return fileupdate.ItemPolicy{Mode: fileupdate.WriteAtomic, Umask: 0o027}
}
