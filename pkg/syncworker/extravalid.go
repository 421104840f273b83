package syncworker

import (
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/wazuh-cluster/pkg/clustercfg"
	"github.com/cuemby/wazuh-cluster/pkg/clusterserver"
	"github.com/cuemby/wazuh-cluster/pkg/fileupdate"
	"github.com/cuemby/wazuh-cluster/pkg/healthstore"
	"github.com/cuemby/wazuh-cluster/pkg/log"
)

// ExtraValidConfig wires an extra-valid worker, identical in shape to
// AgentInfoConfig but governed by the agent-groups cluster_item_key.
type ExtraValidConfig struct {
	Items       []clustercfg.ClusterItem
	Updater     *fileupdate.Updater
	StagingRoot string
}

// NewExtraValidWorker builds the sync_ev_c_m worker: a client pushes
// its agent-groups membership files up, the same merged-stream push
// shape as agent-info, but landing under the agent-groups
// cluster_item_key so extra_is_meaningful keeps governing future
// integrity comparisons (spec §4.7.3).
func NewExtraValidWorker(cfg ExtraValidConfig) clusterserver.WorkerFunc {
	key, _ := AgentGroupsKey(cfg.Items)
	policy := policyFor(FileUpdatePolicies(cfg.Items), key)

	return func(ctx clusterserver.WorkerContext) {
		defer ctx.Release()
		runID := uuid.NewString()
		logger := log.WithRun("syncworker.extravalid", ctx.ClientName, runID)
		ctx.Health.Update(ctx.ClientName, healthstore.WorkerExtraValid, func(rs *healthstore.RunStatus) {
			rs.Status = healthstore.StatusInProgress
			rs.DateStart = time.Now()
		})

		applied, status := applyMergedPush(ctx, cfg.Updater, cfg.StagingRoot, key, policy, logger)

		var started time.Time
		ctx.Health.Update(ctx.ClientName, healthstore.WorkerExtraValid, func(rs *healthstore.RunStatus) {
			started = rs.DateStart
			rs.Status = status
			rs.DateEnd = time.Now()
			rs.MergedFiles = applied
		})
		recordRunMetrics(clusterserver.KindExtraValid, status, started)
	}
}
