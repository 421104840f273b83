package clusterclient

import (
	"github.com/cuemby/wazuh-cluster/pkg/clustercfg"
	"github.com/cuemby/wazuh-cluster/pkg/fileupdate"
	"github.com/cuemby/wazuh-cluster/pkg/syncworker"
)

// itemPolicies and policyFor mirror syncworker's policy translation
// (this side of the connection needs the same write_mode/umask lookup
// to apply pushed content, without importing syncworker's unexported
// fallback helper).
func itemPolicies(items []clustercfg.ClusterItem) map[string]fileupdate.ItemPolicy {
	return syncworker.FileUpdatePolicies(items)
}

func policyFor(policies map[string]fileupdate.ItemPolicy, key string) fileupdate.ItemPolicy {
	if p, ok := policies[key]; ok {
		return p
	}
	return fileupdate.ItemPolicy{Mode: fileupdate.WriteAtomic, Umask: 0o027}
}
