package tcp

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/aodvmesh/simnet/transport"
)

func TestDialAccept_IdentityHandshakeAndRoles(t *testing.T) {
	l := New(Config{ListenAddr: "127.0.0.1:0"})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	l.cfg.ListenAddr = ln.Addr().String()
	ln.Close()

	accepted := make(chan transport.Link, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := l.Start(ctx, func(link transport.Link) { accepted <- link }); err != nil {
		t.Fatalf("Start: %v", err)
	}

	dialed, err := Dial(context.Background(), l.Addr(), "N1", nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer dialed.Close()

	if dialed.Role() != transport.RoleParent {
		t.Fatalf("expected dialer role=parent, got %v", dialed.Role())
	}

	select {
	case link := <-accepted:
		defer link.Close()
		if link.Role() != transport.RoleChild {
			t.Fatalf("expected acceptor role=child, got %v", link.Role())
		}
		if link.PeerID() != "N1" {
			t.Fatalf("expected accepted peer id=N1, got %q", link.PeerID())
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for accepted link")
	}
}

func TestSendRun_DeliversFramedRecords(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	l := New(Config{ListenAddr: ln.Addr().String()})
	ln.Close()

	accepted := make(chan transport.Link, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := l.Start(ctx, func(link transport.Link) {
		accepted <- link
		go link.Run(func(string) {})
	}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	dialed, err := Dial(context.Background(), l.Addr(), "N1", nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer dialed.Close()

	var childLink transport.Link
	select {
	case childLink = <-accepted:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for accept")
	}

	got := make(chan string, 1)
	go dialed.Run(func(wire string) { got <- wire })

	if err := childLink.Send("USER|N1|N3|PING|\r\n"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case wire := <-got:
		if wire != "USER|N1|N3|PING|\r\n" {
			t.Fatalf("unexpected wire record: %q", wire)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for framed record")
	}
}

func TestClose_IsIdempotentAndMarksLink(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	addr := ln.Addr().String()
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			conn.Close()
		}
	}()

	c, err := Dial(context.Background(), addr, "N1", nil)
	if err != nil {
		ln.Close()
		t.Fatalf("Dial: %v", err)
	}
	ln.Close()

	if c.IsClosed() {
		t.Fatal("link should not be closed yet")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close should be a no-op, got %v", err)
	}
	if !c.IsClosed() {
		t.Fatal("expected IsClosed() == true after Close")
	}
	if err := c.Send("X\r\n"); err == nil {
		t.Fatal("expected Send on a closed link to fail")
	}
}

func TestReadIdentity_LongIdentityFallback(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	longID := "a-very-long-node-identity-string:9999"
	go writeIdentity(client, longID)

	id, err := readIdentity(server)
	if err != nil {
		t.Fatalf("readIdentity: %v", err)
	}
	if id != longID {
		t.Fatalf("got %q, want %q", id, longID)
	}
}
