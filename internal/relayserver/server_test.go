package relayserver

import (
	"context"
	"testing"
	"time"

	"github.com/zeroksync/0k-sync/internal/relaycoord"
	"github.com/zeroksync/0k-sync/internal/relaysession"
	"github.com/zeroksync/0k-sync/internal/relaystore"
	"github.com/zeroksync/0k-sync/internal/transport"
	"github.com/zeroksync/0k-sync/internal/wire"
)

func TestServer_AdmitsConnectionAndCompletesHello(t *testing.T) {
	mt := transport.NewMemoryTransport()
	defer mt.Close()
	ln, err := mt.Listen("relay-server", transport.ListenOptions{})
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	defer ln.Close()

	store := relaystore.New()
	coord := relaycoord.New(relaycoord.DefaultLimiterConfig(), nil)
	srv := New(store, coord, DefaultConfig(), nil, nil)
	go srv.Serve(ln)
	defer srv.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	client, err := transport.DialConn(ctx, mt, "relay-server", transport.DialOptions{})
	if err != nil {
		t.Fatalf("DialConn() error = %v", err)
	}
	defer client.Close()

	hello := wire.Hello{Version: wire.ProtocolVersion, DeviceName: "laptop", GroupID: wire.GroupIDFromSecret([]byte("server-test-secret"))}
	if err := client.Send(wire.Envelope{Type: wire.MsgHello, Payload: hello.Encode()}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	reply, err := client.Recv()
	if err != nil {
		t.Fatalf("Recv() error = %v", err)
	}
	if reply.Type != wire.MsgWelcome {
		t.Fatalf("reply type = %v, want MsgWelcome", reply.Type)
	}
}

func TestServer_RejectsOverSessionCap(t *testing.T) {
	mt := transport.NewMemoryTransport()
	defer mt.Close()
	ln, err := mt.Listen("relay-server-cap", transport.ListenOptions{})
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	defer ln.Close()

	store := relaystore.New()
	coord := relaycoord.New(relaycoord.DefaultLimiterConfig(), nil)
	cfg := Config{MaxConcurrentSessions: 1, SessionConfig: relaysession.DefaultConfig()}
	srv := New(store, coord, cfg, nil, nil)
	go srv.Serve(ln)
	defer srv.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	held, err := transport.DialConn(ctx, mt, "relay-server-cap", transport.DialOptions{})
	if err != nil {
		t.Fatalf("DialConn() #1 error = %v", err)
	}
	defer held.Close()
	hello := wire.Hello{Version: wire.ProtocolVersion, DeviceName: "laptop-1", GroupID: wire.GroupIDFromSecret([]byte("cap-secret"))}
	if err := held.Send(wire.Envelope{Type: wire.MsgHello, Payload: hello.Encode()}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if _, err := held.Recv(); err != nil {
		t.Fatalf("Recv() error = %v", err)
	}

	second, err := transport.DialConn(ctx, mt, "relay-server-cap", transport.DialOptions{})
	if err != nil {
		t.Fatalf("DialConn() #2 error = %v", err)
	}
	defer second.Close()

	// the server closes the raw connection before any wire.Envelope is
	// exchanged, so the client's first Recv should fail rather than hang.
	second.Send(wire.Envelope{Type: wire.MsgHello, Payload: hello.Encode()})
	if _, err := second.Recv(); err == nil {
		t.Fatal("expected Recv() on the over-cap connection to fail, got nil error")
	}
}
