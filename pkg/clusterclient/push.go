package clusterclient

import (
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/wazuh-cluster/pkg/archive"
	"github.com/cuemby/wazuh-cluster/pkg/clustercfg"
	"github.com/cuemby/wazuh-cluster/pkg/frame"
	"github.com/cuemby/wazuh-cluster/pkg/log"
	"github.com/cuemby/wazuh-cluster/pkg/syncworker"
)

// runAgentInfoPush is one tick of the agent-info push loop: merge
// this client's own agent-info records into one stream and hand them
// to the master's agent-info worker (spec §3: "the client
// periodically pushes an agent-info archive").
func (c *Client) runAgentInfoPush() {
	c.runPush("clusterclient.agentinfo", "agent-info", syncworker.AgentInfoKey, "sync_ai_c_m")
}

// runExtraValidPush is one tick of the extra-valid (agent-groups)
// push loop: identical shape to the agent-info push but for the
// agent-groups profile, sent only "when instructed" in the original
// wording — here, on the same fixed cadence, since the master's
// extra-valid worker is idempotent against a no-op push (an empty
// merge produces no archive at all, see runPush below).
func (c *Client) runExtraValidPush() {
	c.runPush("clusterclient.extravalid", "agent-groups", syncworker.AgentGroupsKey, "sync_ev_c_m")
}

func (c *Client) runPush(component, fileType string, keyFn func([]clustercfg.ClusterItem) (string, bool), command string) {
	runID := uuid.NewString()
	logger := log.WithRun(component, c.cfg.Name, runID)

	key, ok := keyFn(c.cfg.Items)
	if !ok {
		return
	}
	item := itemForKey(c.cfg.Items, key)
	if item.Root == "" {
		return
	}

	records, err := readRecords(item.Root)
	if err != nil {
		logger.Warn().Err(err).Msg("reading local records")
		return
	}
	if len(records) == 0 {
		return
	}

	stage, err := stagingDir(c.cfg.Root, c.cfg.Name)
	if err != nil {
		logger.Warn().Err(err).Msg("preparing staging dir")
		return
	}
	mergeDir, err := os.MkdirTemp(stage, "push-merge-*")
	if err != nil {
		logger.Warn().Err(err).Msg("creating merge dir")
		return
	}
	defer os.RemoveAll(mergeDir)

	n, mergedPath, err := archive.Merge(mergeDir, fileType, records, 0)
	if err != nil {
		logger.Warn().Err(err).Msg("merging local records")
		return
	}
	if n == 0 {
		return
	}

	manifest := archive.NewClientFilesManifest()
	mergedName := filepath.Base(mergedPath)
	manifest.AddClientFile(mergedName, archive.FileMeta{
		ClusterItemKey: key,
		Merged:         true,
		MergeType:      fileType,
		MergeName:      mergedName,
	})

	archivePath := filepath.Join(stage, fileType+"-push-"+runID+".zip")
	if err := archive.Build(archivePath, manifest, map[string]string{mergedName: mergedPath}); err != nil {
		logger.Warn().Err(err).Msg("building push archive")
		return
	}
	defer os.Remove(archivePath)

	if err := frame.SendFile(c.conn, runID, filepath.Base(archivePath), archivePath); err != nil {
		logger.Warn().Err(err).Msg("streaming push archive")
		return
	}

	c.awaitPushAck(logger, command, filepath.Base(archivePath))
}

func (c *Client) awaitPushAck(logger zerolog.Logger, command, archiveName string) {
	counter, err := c.conn.WriteFrame(command, []byte(archiveName))
	if err != nil {
		logger.Warn().Err(err).Msg("sending push command")
		return
	}
	ch, cancel := c.awaitResponse(counter)
	defer cancel()
	select {
	case fr := <-ch:
		if fr.Command == "ack" && string(fr.Body) == "denied" {
			logger.Debug().Msg("push denied by permit, will retry next tick")
		}
	case <-time.After(c.cfg.ResponseTimeout):
		logger.Warn().Msg("timed out waiting for push ack")
	case <-c.stopCh:
	}
}

func itemForKey(items []clustercfg.ClusterItem, key string) clustercfg.ClusterItem {
	for _, it := range items {
		if it.Key == key {
			return it
		}
	}
	return clustercfg.ClusterItem{}
}

func readRecords(root string) ([]archive.Record, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []archive.Record
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		body, err := os.ReadFile(filepath.Join(root, e.Name()))
		if err != nil {
			continue
		}
		out = append(out, archive.Record{Name: e.Name(), ModTime: info.ModTime(), Body: body})
	}
	return out, nil
}
