package transport

import (
	"context"
	"testing"
	"time"

	"github.com/zeroksync/0k-sync/internal/wire"
)

func TestConn_SendRecvRoundTrip(t *testing.T) {
	mt := NewMemoryTransport()
	defer mt.Close()

	ln, err := mt.Listen("test", ListenOptions{})
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	defer ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	serverCh := make(chan *Conn, 1)
	serverErrCh := make(chan error, 1)
	go func() {
		c, err := AcceptConn(ctx, ln)
		if err != nil {
			serverErrCh <- err
			return
		}
		serverCh <- c
	}()

	client, err := DialConn(ctx, mt, "test", DialOptions{})
	if err != nil {
		t.Fatalf("DialConn() error = %v", err)
	}
	defer client.Close()

	var server *Conn
	select {
	case server = <-serverCh:
	case err := <-serverErrCh:
		t.Fatalf("AcceptConn() error = %v", err)
	case <-ctx.Done():
		t.Fatal("timed out waiting for server accept")
	}
	defer server.Close()

	if !client.IsDialer() {
		t.Error("client.IsDialer() = false, want true")
	}
	if server.IsDialer() {
		t.Error("server.IsDialer() = true, want false")
	}

	hello := wire.Hello{Version: wire.ProtocolVersion, DeviceName: "laptop"}
	env := wire.Envelope{Type: wire.MsgHello, Payload: hello.Encode()}

	done := make(chan error, 1)
	go func() { done <- client.Send(env) }()

	got, err := server.Recv()
	if err != nil {
		t.Fatalf("Recv() error = %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if got.Type != wire.MsgHello {
		t.Fatalf("Type = %v, want MsgHello", got.Type)
	}
	decoded, err := wire.DecodeHello(got.Payload)
	if err != nil {
		t.Fatalf("DecodeHello() error = %v", err)
	}
	if decoded.DeviceName != "laptop" {
		t.Errorf("DeviceName = %q, want laptop", decoded.DeviceName)
	}
}

func TestConn_TransportType(t *testing.T) {
	mt := NewMemoryTransport()
	defer mt.Close()

	ln, err := mt.Listen("test", ListenOptions{})
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	defer ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	go AcceptConn(ctx, ln)

	client, err := DialConn(ctx, mt, "test", DialOptions{})
	if err != nil {
		t.Fatalf("DialConn() error = %v", err)
	}
	defer client.Close()

	if client.TransportType() != "memory" {
		t.Errorf("TransportType() = %v, want memory", client.TransportType())
	}
}
