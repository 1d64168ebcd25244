package transport

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseUSBAddress(t *testing.T) {
	tests := []struct {
		name    string
		address string
		wantErr bool
		serial  string
	}{
		{name: "vid:pid only", address: "04b8:0202"},
		{name: "vid:pid:serial", address: "04b8:0202:ABC123", serial: "ABC123"},
		{name: "missing pid", address: "04b8", wantErr: true},
		{name: "bad vid", address: "zzzz:0202", wantErr: true},
		{name: "bad pid", address: "04b8:zzzz", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr, err := ParseUSBAddress(tt.address)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.serial, addr.Serial)
		})
	}
}

func TestDecodeStatus(t *testing.T) {
	tests := []struct {
		name     string
		status   byte
		degraded bool
		reason   string
	}{
		{name: "ok", status: 0x00},
		{name: "paper out", status: 0x60, degraded: true, reason: "paper-out"},
		{name: "cover open", status: 0x04, degraded: true, reason: "cover-open"},
		{name: "cutter error", status: 0x08, degraded: true, reason: "cutter-error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reason, degraded := decodeStatus(tt.status)
			assert.Equal(t, tt.degraded, degraded)
			assert.Equal(t, tt.reason, reason)
		})
	}
}

func TestIsTimeoutErr(t *testing.T) {
	assert.True(t, isTimeoutErr(timeoutErr{}))
	assert.False(t, isTimeoutErr(errors.New("connection reset")))
}

type timeoutErr struct{}

func (timeoutErr) Error() string { return "i/o timeout" }
func (timeoutErr) Timeout() bool { return true }

func TestTCPDriver_SendWritesBytesToListener(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	received := make(chan []byte, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 1024)
		n, _ := conn.Read(buf)
		received <- buf[:n]
	}()

	d, err := NewTCPDriver(context.Background(), ln.Addr().String())
	require.NoError(t, err)
	defer d.Close()

	ack, err := d.Send(context.Background(), []byte("hello printer"))
	require.NoError(t, err)
	assert.Equal(t, len("hello printer"), ack.BytesWritten)

	select {
	case got := <-received:
		assert.Equal(t, "hello printer", string(got))
	case <-time.After(2 * time.Second):
		t.Fatal("listener never received the write")
	}
}

func TestTCPDriver_ProbeReportsOfflineWhenUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	host, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	ln.Close() // nothing listens on this port anymore

	portNum, err := net.LookupPort("tcp", port)
	require.NoError(t, err)
	d := &TCPDriver{host: host, port: portNum}

	result, err := d.Probe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusOffline, result.Status)
}
