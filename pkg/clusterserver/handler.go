package clusterserver

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/cuemby/wazuh-cluster/pkg/clustererr"
	"github.com/cuemby/wazuh-cluster/pkg/frame"
	"github.com/cuemby/wazuh-cluster/pkg/log"
)

// handler dispatches framed requests for one connection (spec §4.6).
// It never raises into the transport: every reachable error becomes
// an "err <msg>" response and the loop continues: only a malformed
// frame or a connection reset ends it.
type handler struct {
	server *Server
	conn   *frame.Conn
	client *Client
	chunks *frame.ChunkReceiver
}

// run performs the handshake, registers the client, and dispatches
// frames until the connection drops or the server shuts down.
func (h *handler) run() {
	logger := log.WithComponent("clusterserver")

	name, version, err := h.handshake()
	if err != nil {
		logger.Warn().Err(err).Msg("handshake failed")
		h.conn.Close()
		return
	}

	h.client = h.server.Clients.Add(name, version, h.conn.RemoteAddr().String(), h.conn)
	h.chunks = frame.NewChunkReceiver(tmpFilesDir(h.server, name))
	clientLogger := log.WithClient("clusterserver", name)
	clientLogger.Info().Str("addr", h.client.Addr).Msg("client connected")

	defer func() {
		h.server.Clients.RemoveIfCurrent(name, h.client)
		h.conn.Close()
		clientLogger.Info().Msg("client disconnected")
	}()

	for {
		fr, err := h.conn.ReadFrame()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			if errors.Is(err, clustererr.ErrMalformedFrame) {
				clientLogger.Warn().Err(err).Msg("malformed frame, dropping connection")
				return
			}
			clientLogger.Warn().Err(err).Msg("connection error, dropping")
			return
		}

		select {
		case <-h.client.Stopper():
			return
		case <-h.server.Stopper():
			return
		default:
		}

		if h.client.deliverResponse(fr) {
			continue
		}
		h.dispatch(fr)
	}
}

// handshake reads the client's opening frame, expected to be
// "echo-c <name> <version>", and returns its two fields.
func (h *handler) handshake() (name, version string, err error) {
	fr, err := h.conn.ReadFrame()
	if err != nil {
		return "", "", err
	}
	fields := strings.SplitN(string(fr.Body), " ", 2)
	name = fields[0]
	if len(fields) > 1 {
		version = fields[1]
	}
	if name == "" {
		return "", "", fmt.Errorf("clusterserver: handshake carried an empty client name")
	}
	// name is joined straight into this client's staging directory
	// path (workDir/tmpFilesDir); confine it to a single path segment
	// so a hostile "../../../../tmp/evil" handshake can never redirect
	// that directory outside queue/cluster.
	if name != filepath.Base(filepath.Clean(name)) || name == "." || name == ".." {
		return "", "", fmt.Errorf("clusterserver: handshake carried an unsafe client name %q", name)
	}
	if err := h.conn.WriteResponse(fr.Counter, "ok", []byte("pong")); err != nil {
		return "", "", err
	}
	return name, version, nil
}

// workDir is a client's per-connection staging directory, per spec
// §6: <root>/queue/cluster/<client_name>/.
func workDir(s *Server, clientName string) string {
	return filepath.Join(s.Root, "queue", "cluster", clientName)
}

func tmpFilesDir(s *Server, clientName string) string {
	return filepath.Join(workDir(s, clientName), "tmp_files")
}
