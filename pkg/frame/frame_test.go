package frame

import (
	"net"
	"testing"
)

func TestEncodeSplitRoundTrip(t *testing.T) {
	payload := Encode("sync_i_c_m", []byte("manifest-path.gz"))
	cmd, body, err := Split(payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cmd != "sync_i_c_m" {
		t.Errorf("command = %q, want sync_i_c_m", cmd)
	}
	if string(body) != "manifest-path.gz" {
		t.Errorf("body = %q, want manifest-path.gz", body)
	}
}

func TestEncodeSplitEmptyBody(t *testing.T) {
	payload := Encode("echo-c", nil)
	cmd, body, err := Split(payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cmd != "echo-c" || len(body) != 0 {
		t.Errorf("got cmd=%q body=%q", cmd, body)
	}
}

func TestSplitRejectsMissingSeparator(t *testing.T) {
	if _, _, err := Split([]byte("nocommandseparator")); err == nil {
		t.Fatal("expected error for payload without a separator")
	}
}

func TestConnWriteReadFrame(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	sc := NewConn(server)
	cc := NewConn(client)

	done := make(chan error, 1)
	go func() {
		_, err := cc.WriteFrame("echo-c", []byte("hello"))
		done <- err
	}()

	got, err := sc.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	if got.Command != "echo-c" {
		t.Errorf("command = %q, want echo-c", got.Command)
	}
	if string(got.Body) != "hello" {
		t.Errorf("body = %q, want hello", got.Body)
	}
	if got.Counter != 1 {
		t.Errorf("counter = %d, want 1", got.Counter)
	}
}

func TestConnResponsePairsCounter(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	sc := NewConn(server)
	cc := NewConn(client)

	go func() {
		f, err := sc.ReadFrame()
		if err != nil {
			return
		}
		sc.WriteResponse(f.Counter, "ok", []byte("payload"))
	}()

	counter, err := cc.WriteFrame("sync_m_c_ok", nil)
	if err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	resp, err := cc.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if resp.Counter != counter {
		t.Errorf("response counter = %d, want %d (paired with request)", resp.Counter, counter)
	}
	if resp.Command != "ok" {
		t.Errorf("command = %q, want ok", resp.Command)
	}
}
