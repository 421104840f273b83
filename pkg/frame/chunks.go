package frame

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/cuemby/wazuh-cluster/pkg/clustererr"
)

// Large payloads (archives) may exceed a single frame. The chunked
// sub-protocol layers "open a temporary receive slot -> append chunks
// under a sequence-bound counter -> close naming the finalized path"
// on top of plain frames, per spec §4.1.
const (
	CmdNewFile   = "new_file"
	CmdFileChunk = "file_chunk"
	CmdCloseFile = "close_file"
)

// ChunkReceiver tracks in-flight receive slots for one connection.
// The receiver guarantees ordering within one slot by rejecting any
// chunk whose sequence number does not immediately follow the last
// one accepted.
type ChunkReceiver struct {
	tmpDir string

	mu    sync.Mutex
	slots map[string]*receiveSlot
}

type receiveSlot struct {
	file    *os.File
	nextSeq uint32
}

// NewChunkReceiver creates a receiver that stages incoming files under
// tmpDir (typically <root>/queue/cluster/<client>/tmp_files).
func NewChunkReceiver(tmpDir string) *ChunkReceiver {
	return &ChunkReceiver{tmpDir: tmpDir, slots: make(map[string]*receiveSlot)}
}

// Open allocates a new receive slot named slotID and returns its
// temporary path.
func (r *ChunkReceiver) Open(slotID string) (string, error) {
	if err := os.MkdirAll(r.tmpDir, 0o750); err != nil {
		return "", fmt.Errorf("chunk receiver: creating tmp dir: %w", err)
	}
	tmpPath := filepath.Join(r.tmpDir, slotID+".part")

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return "", fmt.Errorf("chunk receiver: opening slot: %w", err)
	}

	r.mu.Lock()
	r.slots[slotID] = &receiveSlot{file: f}
	r.mu.Unlock()

	return tmpPath, nil
}

// Append writes one chunk to an open slot, enforcing strictly
// sequential ordering.
func (r *ChunkReceiver) Append(slotID string, seq uint32, data []byte) error {
	r.mu.Lock()
	slot, ok := r.slots[slotID]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("chunk receiver: unknown slot %q", slotID)
	}
	if seq != slot.nextSeq {
		return fmt.Errorf("chunk receiver: out-of-order chunk for slot %q: got seq %d, want %d", slotID, seq, slot.nextSeq)
	}
	if _, err := slot.file.Write(data); err != nil {
		return fmt.Errorf("chunk receiver: writing chunk: %w", err)
	}
	slot.nextSeq++
	return nil
}

// Close finalizes a slot: the temp file is synced, closed, and
// renamed to finalName inside tmpDir, then removed from the
// tracked slots. Returns the final path.
func (r *ChunkReceiver) Close(slotID, finalName string) (string, error) {
	r.mu.Lock()
	slot, ok := r.slots[slotID]
	delete(r.slots, slotID)
	r.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("chunk receiver: unknown slot %q", slotID)
	}

	if err := slot.file.Sync(); err != nil {
		slot.file.Close()
		return "", fmt.Errorf("chunk receiver: syncing slot: %w", err)
	}
	tmpPath := slot.file.Name()
	if err := slot.file.Close(); err != nil {
		return "", fmt.Errorf("chunk receiver: closing slot: %w", err)
	}

	finalPath := filepath.Join(filepath.Dir(tmpPath), finalName)
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return "", fmt.Errorf("chunk receiver: finalizing slot: %w", err)
	}
	return finalPath, nil
}

// Abandon discards a slot without finalizing it, used when the
// stopper event fires mid-transfer (spec §5 cancellation).
func (r *ChunkReceiver) Abandon(slotID string) {
	r.mu.Lock()
	slot, ok := r.slots[slotID]
	delete(r.slots, slotID)
	r.mu.Unlock()
	if !ok {
		return
	}
	name := slot.file.Name()
	slot.file.Close()
	os.Remove(name)
}

// ChunkSize is the amount of file content carried per file_chunk frame.
const ChunkSize = 1 << 20 // 1 MiB

// SendFile streams a local file to the peer over conn using the
// new_file/file_chunk/close_file sub-protocol, yielding to the
// connection's frame layer between chunks (a suspension point per
// spec §5) so request dispatch is never starved by a large transfer.
func SendFile(conn *Conn, slotID, finalName, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("frame: opening file to send: %w", err)
	}
	defer f.Close()

	if _, err := conn.WriteFrame(CmdNewFile, []byte(slotID)); err != nil {
		return err
	}

	buf := make([]byte, ChunkSize)
	var seq uint32
	for {
		n, readErr := f.Read(buf)
		if n > 0 {
			chunkBody := append([]byte(fmt.Sprintf("%s %d ", slotID, seq)), buf[:n]...)
			if _, err := conn.WriteFrame(CmdFileChunk, chunkBody); err != nil {
				return err
			}
			seq++
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			return fmt.Errorf("frame: reading file to send: %w", readErr)
		}
		if n == 0 {
			break
		}
	}

	if _, err := conn.WriteFrame(CmdCloseFile, []byte(fmt.Sprintf("%s %s", slotID, finalName))); err != nil {
		return err
	}
	return nil
}

// splitChunkHeader parses "<slotID> <seq> " off the front of a
// file_chunk frame body, returning the remaining bytes as data.
func splitChunkHeader(body []byte) (slotID string, seq uint32, data []byte, err error) {
	var rest []byte
	first := -1
	for i, b := range body {
		if b == ' ' {
			first = i
			break
		}
	}
	if first < 0 {
		return "", 0, nil, fmt.Errorf("%w: malformed file_chunk header", clustererr.ErrMalformedFrame)
	}
	slotID = string(body[:first])
	rest = body[first+1:]

	second := -1
	for i, b := range rest {
		if b == ' ' {
			second = i
			break
		}
	}
	if second < 0 {
		return "", 0, nil, fmt.Errorf("%w: malformed file_chunk header", clustererr.ErrMalformedFrame)
	}
	var seqVal uint32
	if _, err := fmt.Sscanf(string(rest[:second]), "%d", &seqVal); err != nil {
		return "", 0, nil, fmt.Errorf("%w: bad sequence number", clustererr.ErrMalformedFrame)
	}
	return slotID, seqVal, rest[second+1:], nil
}

// ParseChunk exposes splitChunkHeader for callers that dispatch raw
// frame.Frame values (e.g. the client handler's command loop).
func ParseChunk(body []byte) (slotID string, seq uint32, data []byte, err error) {
	return splitChunkHeader(body)
}
