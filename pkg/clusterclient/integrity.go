package clusterclient

import (
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/wazuh-cluster/pkg/archive"
	"github.com/cuemby/wazuh-cluster/pkg/catalog"
	"github.com/cuemby/wazuh-cluster/pkg/clustercfg"
	"github.com/cuemby/wazuh-cluster/pkg/frame"
	"github.com/cuemby/wazuh-cluster/pkg/log"
)

// runIntegrity is one tick of the integrity pull loop: scan the
// master-owned items this client currently holds, report that
// snapshot to the master, and — unless the master answers
// sync_m_c_ok — wait for it to push back the archive of
// missing/shared content (spec §3's "client opens a connection ->
// sends an integrity request... master sends back an archive of
// missing/shared files (or an OK) -> client applies them").
func (c *Client) runIntegrity() {
	runID := uuid.NewString()
	logger := log.WithRun("clusterclient.integrity", c.cfg.Name, runID)

	// Discard a result left behind by a round that timed out before the
	// master's reply arrived: integrityResult carries no run identity of
	// its own, so a stale entry sitting here would otherwise be read as
	// this round's answer instead of the timed-out round's.
	select {
	case <-c.integrityResult:
	default:
	}

	profiles := masterOwnedProfiles(c.cfg.Items)
	if len(profiles) == 0 {
		return
	}
	snap, err := catalog.NewScanner(profiles).Scan()
	if err != nil {
		logger.Warn().Err(err).Msg("scanning master-owned items")
		return
	}

	manifest := archive.NewManifest()
	for path, entry := range snap {
		manifest.Add(path, archive.FileMeta{
			ClusterItemKey: entry.ClusterItemKey,
			MD5:            entry.MD5,
			ModTimeUnix:    entry.ModTime.Unix(),
		})
	}

	stage, err := stagingDir(c.cfg.Root, c.cfg.Name)
	if err != nil {
		logger.Warn().Err(err).Msg("preparing staging dir")
		return
	}
	archivePath := filepath.Join(stage, "integrity-req-"+runID+".zip")
	if err := archive.Build(archivePath, manifest, nil); err != nil {
		logger.Warn().Err(err).Msg("building integrity request archive")
		return
	}
	defer os.Remove(archivePath)

	if err := frame.SendFile(c.conn, runID, filepath.Base(archivePath), archivePath); err != nil {
		logger.Warn().Err(err).Msg("streaming integrity request archive")
		return
	}

	counter, err := c.conn.WriteFrame("sync_i_c_m", []byte(filepath.Base(archivePath)))
	if err != nil {
		logger.Warn().Err(err).Msg("sending sync_i_c_m")
		return
	}

	ch, cancel := c.awaitResponse(counter)
	defer cancel()
	select {
	case fr := <-ch:
		if fr.Command != "ack" || string(fr.Body) == "denied" {
			logger.Debug().Str("response", string(fr.Body)).Msg("integrity request denied or rejected")
			return
		}
	case <-time.After(c.cfg.ResponseTimeout):
		logger.Warn().Msg("timed out waiting for sync_i_c_m ack")
		return
	case <-c.stopCh:
		return
	}

	select {
	case res := <-c.integrityResult:
		if res.err != nil {
			logger.Warn().Err(res.err).Msg("integrity run ended in error")
		} else if res.empty {
			logger.Debug().Msg("catalogs already agree")
		} else {
			logger.Info().Msg("applied pushed integrity archive")
		}
	case <-time.After(c.cfg.ResponseTimeout):
		logger.Warn().Msg("timed out waiting for master's integrity reply")
	case <-c.stopCh:
	}
}

// masterOwnedProfiles narrows the configured cluster items down to
// the ones this client reports its holdings of during an integrity
// request: profiles flagged master_owned in cluster_items.json (spec
// §3's policy profiles).
func masterOwnedProfiles(items []clustercfg.ClusterItem) []catalog.ItemProfile {
	var out []catalog.ItemProfile
	for _, it := range items {
		if !it.MasterOwned {
			continue
		}
		out = append(out, catalog.ItemProfile{
			Key:               it.Key,
			Root:              it.Root,
			Recursive:         it.Recursive,
			ExtraIsMeaningful: it.ExtraIsMeaningful,
		})
	}
	return out
}

// allProfiles covers every configured item regardless of ownership,
// used to answer a master-initiated file_status query: a diagnostic
// listing reports everything this node holds, not just the subset it
// reports during its own integrity pull.
func allProfiles(items []clustercfg.ClusterItem) []catalog.ItemProfile {
	out := make([]catalog.ItemProfile, 0, len(items))
	for _, it := range items {
		out = append(out, catalog.ItemProfile{
			Key:               it.Key,
			Root:              it.Root,
			Recursive:         it.Recursive,
			ExtraIsMeaningful: it.ExtraIsMeaningful,
		})
	}
	return out
}
