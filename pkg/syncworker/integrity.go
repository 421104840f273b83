package syncworker

import (
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/wazuh-cluster/pkg/archive"
	"github.com/cuemby/wazuh-cluster/pkg/catalog"
	"github.com/cuemby/wazuh-cluster/pkg/clustercfg"
	"github.com/cuemby/wazuh-cluster/pkg/clusterserver"
	"github.com/cuemby/wazuh-cluster/pkg/diff"
	"github.com/cuemby/wazuh-cluster/pkg/frame"
	"github.com/cuemby/wazuh-cluster/pkg/healthstore"
	"github.com/cuemby/wazuh-cluster/pkg/log"
	"github.com/cuemby/wazuh-cluster/pkg/metrics"
)

// IntegrityConfig wires an integrity worker to the master's shared
// state: the policy table governing which cluster_item_key gets the
// agent-groups merge substitution, the directory tree to read
// authoritative file content from, and a scratch directory for
// extraction and archive-building.
type IntegrityConfig struct {
	Items       []clustercfg.ClusterItem
	FileRoot    string
	StagingRoot string
	// ResponseTimeout bounds how long the worker waits for the client's
	// applied/failed acknowledgement after pushing an archive, so a
	// client that vanishes mid-transfer never leaks the run as
	// permanently "in progress".
	ResponseTimeout time.Duration
}

// NewIntegrityWorker builds the sync_i_c_m worker: it compares the
// master's authoritative catalog (ctx.Catalog) against the
// client-reported master_files manifest in the uploaded archive, and
// pushes back whatever the client is missing or holds a stale copy of
// (spec §4.7.1).
func NewIntegrityWorker(cfg IntegrityConfig) clusterserver.WorkerFunc {
	extraMeaningful := ExtraIsMeaningful(cfg.Items)
	agentGroupsKey, hasAgentGroups := AgentGroupsKey(cfg.Items)

	return func(ctx clusterserver.WorkerContext) {
		defer ctx.Release()
		runID := uuid.NewString()
		logger := log.WithRun("syncworker.integrity", ctx.ClientName, runID)
		ctx.Health.Update(ctx.ClientName, healthstore.WorkerIntegrity, func(rs *healthstore.RunStatus) {
			rs.Status = healthstore.StatusInProgress
			rs.DateStart = time.Now()
		})

		local, err := ctx.Catalog.Get()
		if err != nil {
			// The refresher has not completed a first scan yet; fail
			// this run without notifying the client, since there is
			// nothing yet to compare against (spec §4.8).
			logger.Warn().Err(err).Msg("catalog not ready, skipping integrity run")
			finishIntegrity(ctx, healthstore.StatusError, healthstore.FileCounts{}, 0)
			return
		}

		extractDir, err := os.MkdirTemp(cfg.StagingRoot, "integrity-extract-*")
		if err != nil {
			logger.Error().Err(err).Msg("creating extract dir")
			finishIntegrity(ctx, healthstore.StatusError, healthstore.FileCounts{}, 0)
			return
		}
		defer os.RemoveAll(extractDir)

		manifest, err := archive.Extract(ctx.ArchivePath, extractDir)
		if err != nil {
			logger.Error().Err(err).Msg("extracting client archive")
			notifyIntegrityError(ctx, logger, err)
			finishIntegrity(ctx, healthstore.StatusError, healthstore.FileCounts{}, 0)
			return
		}

		remote := manifestToSnapshot(manifest)
		result := diff.Compare(local, remote, extraMeaningful)
		counts := healthstore.FileCounts{
			Missing:    len(result[diff.Missing]),
			Shared:     len(result[diff.Shared]),
			Extra:      len(result[diff.Extra]),
			ExtraValid: len(result[diff.ExtraValid]),
		}

		if result.IsEmpty() {
			if _, err := ctx.Conn.WriteFrame("sync_m_c_ok", nil); err != nil {
				logger.Warn().Err(err).Msg("notifying client of empty diff")
			}
			finishIntegrity(ctx, healthstore.StatusDone, counts, 0)
			return
		}

		stagingDir, err := os.MkdirTemp(cfg.StagingRoot, "integrity-build-*")
		if err != nil {
			logger.Error().Err(err).Msg("creating staging dir")
			finishIntegrity(ctx, healthstore.StatusError, counts, 0)
			return
		}
		defer os.RemoveAll(stagingDir)

		outManifest, files, mergedCount, err := buildIntegrityPayload(result, cfg.FileRoot, stagingDir, agentGroupsKey, hasAgentGroups)
		if err != nil {
			logger.Error().Err(err).Msg("building outgoing archive payload")
			finishIntegrity(ctx, healthstore.StatusError, counts, 0)
			return
		}

		archivePath := filepath.Join(stagingDir, "integrity-"+runID+".zip")
		if err := archive.Build(archivePath, outManifest, files); err != nil {
			logger.Error().Err(err).Msg("building outgoing archive")
			finishIntegrity(ctx, healthstore.StatusError, counts, 0)
			return
		}

		if !pushIntegrityArchive(ctx, logger, archivePath, runID, cfg.ResponseTimeout) {
			finishIntegrity(ctx, healthstore.StatusError, counts, mergedCount)
			return
		}
		finishIntegrity(ctx, healthstore.StatusDone, counts, mergedCount)
	}
}

func notifyIntegrityError(ctx clusterserver.WorkerContext, logger zerolog.Logger, cause error) {
	if _, err := ctx.Conn.WriteFrame("sync_m_c_err", []byte(cause.Error())); err != nil {
		logger.Warn().Err(err).Msg("notifying client of extraction failure")
	}
}

// manifestToSnapshot turns the client's master_files report into a
// catalog.Snapshot the differ can compare against the master's own, by
// reading back the MD5/mtime/cluster_item_key fields stored in each
// entry (spec §4.4).
func manifestToSnapshot(m *archive.Manifest) catalog.Snapshot {
	snap := make(catalog.Snapshot, len(m.MasterFiles))
	for path, meta := range m.MasterFiles {
		snap[path] = catalog.Entry{
			Path:           path,
			ModTime:        time.Unix(meta.ModTimeUnix, 0).UTC(),
			MD5:            meta.MD5,
			ClusterItemKey: meta.ClusterItemKey,
		}
	}
	return snap
}

// buildIntegrityPayload assembles the manifest and file set for the
// archive shipped back to the client: every missing/shared path is
// carried individually, except that entries under the agent-groups
// cluster_item_key are instead folded into one merged record stream.
// Per the corrected substitution rule (spec §9 Open Question — the
// source's "extra or extra_valid" check was a bug, since both
// constants are always truthy strings; the substitution applies only
// to missing/shared, never extra/extra_valid), extra and extra_valid
// entries are never considered here at all.
func buildIntegrityPayload(result diff.Result, fileRoot, stagingDir, agentGroupsKey string, hasAgentGroups bool) (*archive.Manifest, map[string]string, int, error) {
	manifest := archive.NewManifest()
	files := make(map[string]string)
	var mergeRecords []archive.Record

	for _, bucket := range []diff.Bucket{diff.Missing, diff.Shared} {
		for path, entry := range result[bucket] {
			if hasAgentGroups && entry.ClusterItemKey == agentGroupsKey {
				body, err := os.ReadFile(filepath.Join(fileRoot, filepath.FromSlash(path)))
				if err != nil {
					return nil, nil, 0, err
				}
				mergeRecords = append(mergeRecords, archive.Record{Name: filepath.Base(path), ModTime: entry.ModTime, Body: body})
				continue
			}
			manifest.Add(path, archive.FileMeta{
				ClusterItemKey: entry.ClusterItemKey,
				MD5:            entry.MD5,
				ModTimeUnix:    entry.ModTime.Unix(),
			})
			files[path] = filepath.Join(fileRoot, filepath.FromSlash(path))
		}
	}

	mergedCount := 0
	if len(mergeRecords) > 0 {
		n, mergedPath, err := archive.Merge(stagingDir, "agent-groups", mergeRecords, 0)
		if err != nil {
			return nil, nil, 0, err
		}
		if n > 0 {
			mergedName := filepath.Base(mergedPath)
			manifest.Add(mergedName, archive.FileMeta{
				ClusterItemKey: agentGroupsKey,
				Merged:         true,
				MergeType:      "agent-groups",
				MergeName:      mergedName,
			})
			files[mergedName] = mergedPath
			mergedCount = n
		}
	}

	return manifest, files, mergedCount, nil
}

// pushIntegrityArchive streams the built archive to the client and
// waits for its applied/failed acknowledgement, cancelling early if
// the client disconnects or the server shuts down. It reports whether
// the push is considered to have succeeded.
func pushIntegrityArchive(ctx clusterserver.WorkerContext, logger zerolog.Logger, archivePath, runID string, timeout time.Duration) bool {
	if err := frame.SendFile(ctx.Conn, runID, filepath.Base(archivePath), archivePath); err != nil {
		logger.Error().Err(err).Msg("streaming archive to client")
		return false
	}

	counter, err := ctx.Conn.WriteFrame("sync_m_c", []byte(filepath.Base(archivePath)))
	if err != nil {
		logger.Error().Err(err).Msg("sending sync_m_c")
		return false
	}

	ch, cancel := ctx.AwaitResponse(counter)
	defer cancel()

	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	select {
	case fr := <-ch:
		if fr.Command == "err" {
			logger.Warn().Str("client_error", string(fr.Body)).Msg("client reported failure applying archive")
			return false
		}
		return true
	case <-ctx.Stopper:
		logger.Info().Msg("run cancelled while awaiting client ack")
		return false
	case <-time.After(timeout):
		logger.Warn().Msg("timed out awaiting client ack")
		return false
	}
}

func finishIntegrity(ctx clusterserver.WorkerContext, status healthstore.Status, counts healthstore.FileCounts, mergedCount int) {
	var started time.Time
	ctx.Health.Update(ctx.ClientName, healthstore.WorkerIntegrity, func(rs *healthstore.RunStatus) {
		started = rs.DateStart
		rs.Status = status
		rs.DateEnd = time.Now()
		rs.Files = counts
		rs.MergedFiles = mergedCount
	})
	recordRunMetrics(clusterserver.KindIntegrity, status, started)
}

// recordRunMetrics observes one sync worker run's duration and result,
// shared by every worker kind's finish path.
func recordRunMetrics(kind clusterserver.Kind, status healthstore.Status, started time.Time) {
	if !started.IsZero() {
		metrics.SyncDuration.WithLabelValues(kind.String()).Observe(time.Since(started).Seconds())
	}
	metrics.SyncRunsTotal.WithLabelValues(kind.String(), runResultLabel(status)).Inc()
}

func runResultLabel(status healthstore.Status) string {
	if status == healthstore.StatusDone {
		return "done"
	}
	return "error"
}
