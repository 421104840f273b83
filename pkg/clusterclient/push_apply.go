package clusterclient

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/wazuh-cluster/pkg/archive"
	"github.com/cuemby/wazuh-cluster/pkg/catalog"
	"github.com/cuemby/wazuh-cluster/pkg/fileupdate"
	"github.com/cuemby/wazuh-cluster/pkg/frame"
)

// integrityPush is the outcome of one master-initiated integrity
// delivery, handed from the read loop to whichever runIntegrity call
// is waiting on it.
type integrityPush struct {
	empty bool
	err   error
}

// handleNewFile/handleFileChunk/handleCloseFile mirror
// clusterserver's handler: the master is the sender here, this client
// the receiver, using the same chunked sub-protocol (spec §4.1) and
// the client's own ChunkReceiver staged under tmp_files.
func (c *Client) handleNewFile(fr *frame.Frame) {
	if _, err := c.chunks.Open(string(fr.Body)); err != nil {
		c.logger.Warn().Err(err).Msg("opening receive slot")
	}
}

func (c *Client) handleFileChunk(fr *frame.Frame) {
	slotID, seq, data, err := frame.ParseChunk(fr.Body)
	if err != nil {
		c.logger.Warn().Err(err).Msg("parsing file chunk")
		return
	}
	if err := c.chunks.Append(slotID, seq, data); err != nil {
		c.logger.Warn().Err(err).Msg("appending file chunk")
	}
}

func (c *Client) handleCloseFile(fr *frame.Frame) {
	slotID, finalName, err := splitSlotAndName(fr.Body)
	if err != nil {
		c.logger.Warn().Err(err).Msg("parsing close_file body")
		return
	}
	if _, err := c.chunks.Close(slotID, finalName); err != nil {
		c.logger.Warn().Err(err).Msg("finalizing receive slot")
	}
}

func splitSlotAndName(body []byte) (slotID, finalName string, err error) {
	s := string(body)
	for i, b := range s {
		if b == ' ' {
			return s[:i], s[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("clusterclient: malformed close_file body")
}

// handleIntegrityEmpty answers the master's sync_m_c_ok: nothing to
// apply, the two catalogs already agree.
func (c *Client) handleIntegrityEmpty() {
	select {
	case c.integrityResult <- integrityPush{empty: true}:
	default:
	}
}

func (c *Client) handleIntegrityError(fr *frame.Frame) {
	err := fmt.Errorf("master reported integrity failure: %s", string(fr.Body))
	c.logger.Warn().Err(err).Msg("integrity run failed on master")
	select {
	case c.integrityResult <- integrityPush{err: err}:
	default:
	}
}

// handleSyncPush applies the archive named by a sync_m_c frame (the
// master's integrity reply once the two catalogs disagree): extract
// it, write each master_files entry to its configured destination —
// unmerging the single agent-groups stream entry back into its
// constituent per-agent records first — then ack applied/failed back
// to the master over the same counter the worker is awaiting (spec
// §4.7.1 step 6).
func (c *Client) handleSyncPush(fr *frame.Frame) {
	archivePath := filepath.Join(tmpFilesDir(c.cfg.Root, c.cfg.Name), string(fr.Body))

	err := c.applyIntegrityArchive(archivePath)
	os.Remove(archivePath)

	if err != nil {
		c.logger.Warn().Err(err).Msg("applying integrity archive")
		if werr := c.conn.WriteResponse(fr.Counter, "err", []byte(err.Error())); werr != nil {
			c.logger.Warn().Err(werr).Msg("acking integrity failure")
		}
		select {
		case c.integrityResult <- integrityPush{err: err}:
		default:
		}
		return
	}

	if werr := c.conn.WriteResponse(fr.Counter, "ok", []byte("applied")); werr != nil {
		c.logger.Warn().Err(werr).Msg("acking integrity success")
	}
	select {
	case c.integrityResult <- integrityPush{}:
	default:
	}
}

func (c *Client) applyIntegrityArchive(archivePath string) error {
	extractDir, err := stagingDir(c.cfg.Root, c.cfg.Name)
	if err != nil {
		return err
	}
	extractDir, err = os.MkdirTemp(extractDir, "integrity-apply-*")
	if err != nil {
		return fmt.Errorf("clusterclient: creating extract dir: %w", err)
	}
	defer os.RemoveAll(extractDir)

	manifest, err := archive.Extract(archivePath, extractDir)
	if err != nil {
		return fmt.Errorf("clusterclient: extracting integrity archive: %w", err)
	}

	policies := itemPolicies(c.cfg.Items)
	for name, meta := range manifest.MasterFiles {
		if meta.Merged {
			records, err := archive.Unmerge(filepath.Join(extractDir, name))
			if err != nil {
				c.logger.Warn().Err(err).Str("entry", name).Msg("unmerging pushed stream")
				continue
			}
			for _, rec := range records {
				relPath := filepath.ToSlash(filepath.Join(relRoot(meta.ClusterItemKey), rec.Name))
				c.applyOne(meta.ClusterItemKey, relPath, rec.Body, rec.ModTime, policies)
			}
			continue
		}
		body, err := os.ReadFile(filepath.Join(extractDir, name))
		if err != nil {
			c.logger.Warn().Err(err).Str("entry", name).Msg("reading pushed file")
			continue
		}
		c.applyOne(meta.ClusterItemKey, name, body, time.Unix(meta.ModTimeUnix, 0).UTC(), policies)
	}
	return nil
}

func (c *Client) applyOne(clusterItemKey, relPath string, body []byte, modTime time.Time, policies map[string]fileupdate.ItemPolicy) {
	policy := policyFor(policies, clusterItemKey)
	req := fileupdate.Request{
		RelPath:        relPath,
		Content:        body,
		ModTime:        modTime,
		Policy:         policy,
		ClusterItemKey: clusterItemKey,
	}
	if err := c.updater.Apply(req, nil); err != nil {
		c.logger.Warn().Err(err).Str("path", relPath).Msg("applying pushed file")
	}
}

// handleSyncTrigger answers the admin endpoint's on-demand req_sync_m_c
// (forwarded by the master from its sync command, spec §6): ack
// receipt immediately, then nudge the integrity loop to run early
// rather than block this frame on a full run's completion.
func (c *Client) handleSyncTrigger(fr *frame.Frame) {
	select {
	case c.integrityTrigger <- struct{}{}:
	default:
	}
	if err := c.conn.WriteResponse(fr.Counter, "ok", []byte("scheduled")); err != nil {
		c.logger.Warn().Err(err).Msg("acking sync trigger")
	}
}

// handleFileStatusQuery answers the master's file_status query (the
// admin endpoint's get_files, proxied per node): report every item
// this client holds, not just the master-owned subset runIntegrity
// reports during a pull.
func (c *Client) handleFileStatusQuery(fr *frame.Frame) {
	snap, err := catalog.NewScanner(allProfiles(c.cfg.Items)).Scan()
	if err != nil {
		c.conn.WriteResponse(fr.Counter, "err", []byte(err.Error()))
		return
	}
	body, err := json.Marshal(snap)
	if err != nil {
		c.conn.WriteResponse(fr.Counter, "err", []byte(err.Error()))
		return
	}
	if err := c.conn.WriteResponse(fr.Counter, "ok", body); err != nil {
		c.logger.Warn().Err(err).Msg("answering file_status query")
	}
}

func relRoot(clusterItemKey string) string {
	trimmed := clusterItemKey
	for len(trimmed) > 0 && trimmed[0] == '/' {
		trimmed = trimmed[1:]
	}
	return trimmed
}
