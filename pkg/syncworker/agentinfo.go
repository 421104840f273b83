package syncworker

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/wazuh-cluster/pkg/archive"
	"github.com/cuemby/wazuh-cluster/pkg/clustercfg"
	"github.com/cuemby/wazuh-cluster/pkg/clusterserver"
	"github.com/cuemby/wazuh-cluster/pkg/fileupdate"
	"github.com/cuemby/wazuh-cluster/pkg/healthstore"
	"github.com/cuemby/wazuh-cluster/pkg/log"
)

// AgentInfoConfig wires an agent-info worker to the local file tree it
// writes into.
type AgentInfoConfig struct {
	Items       []clustercfg.ClusterItem
	Updater     *fileupdate.Updater
	StagingRoot string
}

// NewAgentInfoWorker builds the sync_ai_c_m worker: a client pushes its
// local agent status records up, merged into one stream file, and the
// master unmerges and applies each one (spec §4.7.2). Unlike
// integrity, this direction never ships anything back — the worker's
// only output is the applied file count recorded in the health store.
func NewAgentInfoWorker(cfg AgentInfoConfig) clusterserver.WorkerFunc {
	key, _ := AgentInfoKey(cfg.Items)
	policy := policyFor(FileUpdatePolicies(cfg.Items), key)

	return func(ctx clusterserver.WorkerContext) {
		defer ctx.Release()
		runID := uuid.NewString()
		logger := log.WithRun("syncworker.agentinfo", ctx.ClientName, runID)
		ctx.Health.Update(ctx.ClientName, healthstore.WorkerAgentInfo, func(rs *healthstore.RunStatus) {
			rs.Status = healthstore.StatusInProgress
			rs.DateStart = time.Now()
		})

		applied, status := applyMergedPush(ctx, cfg.Updater, cfg.StagingRoot, key, policy, logger)

		var started time.Time
		ctx.Health.Update(ctx.ClientName, healthstore.WorkerAgentInfo, func(rs *healthstore.RunStatus) {
			started = rs.DateStart
			rs.Status = status
			rs.DateEnd = time.Now()
			rs.MergedFiles = applied
		})
		recordRunMetrics(clusterserver.KindAgentInfo, status, started)
	}
}

// applyMergedPush extracts the client's archive, unmerges each
// merged-stream entry back into its constituent records, and applies
// every record through the updater, gating on the known-agent filter.
// It is shared by the agent-info and extra-valid workers, which differ
// only in which cluster_item_key and write policy they apply under.
func applyMergedPush(ctx clusterserver.WorkerContext, updater *fileupdate.Updater, stagingRoot, key string, policy fileupdate.ItemPolicy, logger zerolog.Logger) (applied int, status healthstore.Status) {
	extractDir, err := os.MkdirTemp(stagingRoot, "push-extract-*")
	if err != nil {
		logger.Error().Err(err).Msg("creating extract dir")
		return 0, healthstore.StatusError
	}
	defer os.RemoveAll(extractDir)

	manifest, err := archive.Extract(ctx.ArchivePath, extractDir)
	if err != nil {
		logger.Error().Err(err).Msg("extracting client archive")
		return 0, healthstore.StatusError
	}

	for name, meta := range manifest.ClientFiles {
		select {
		case <-ctx.Stopper:
			logger.Info().Msg("run cancelled mid-apply")
			return applied, healthstore.StatusError
		default:
		}

		var records []archive.Record
		if meta.Merged {
			records, err = archive.Unmerge(filepath.Join(extractDir, name))
			if err != nil {
				logger.Warn().Err(err).Str("entry", name).Msg("unmerging stream entry")
				continue
			}
		} else {
			body, rerr := os.ReadFile(filepath.Join(extractDir, name))
			if rerr != nil {
				logger.Warn().Err(rerr).Str("entry", name).Msg("reading archive entry")
				continue
			}
			records = []archive.Record{{Name: name, Body: body}}
		}

		for _, rec := range records {
			if applyOneRecord(ctx, updater, key, policy, rec, logger) {
				applied++
			}
		}
	}

	return applied, healthstore.StatusDone
}

// applyOneRecord writes one record's content to disk via the updater,
// gated on the record's name being a known agent ID. An unknown agent
// is a warning, not a failed run.
func applyOneRecord(ctx clusterserver.WorkerContext, updater *fileupdate.Updater, key string, policy fileupdate.ItemPolicy, rec archive.Record, logger zerolog.Logger) bool {
	req := fileupdate.Request{
		RelPath:        filepath.ToSlash(filepath.Join(strings.TrimPrefix(key, "/"), rec.Name)),
		Content:        rec.Body,
		ModTime:        rec.ModTime,
		Policy:         policy,
		ClusterItemKey: key,
		AgentID:        rec.Name,
	}
	if err := updater.Apply(req, ctx.Agents); err != nil {
		if errors.Is(err, fileupdate.ErrUnknownAgent) {
			logger.Debug().Str("agent", rec.Name).Msg("skipping content for unknown agent")
		} else {
			logger.Warn().Err(err).Str("agent", rec.Name).Msg("applying pushed record")
		}
		return false
	}
	return true
}
