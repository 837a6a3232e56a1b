package session

import (
	"bufio"
	"context"
	"crypto/tls"
	"net"
	"testing"

	"github.com/danmuck/edgemesh/internal/protocol"
	"github.com/danmuck/edgemesh/internal/protocol/frame"
	"github.com/danmuck/edgemesh/internal/testutil/testlog"
	"github.com/danmuck/edgemesh/internal/testutil/tlstest"
)

func tlsPeer(t *testing.T, cfg Config) string {
	t.Helper()
	serverTLS, err := cfg.ServerTLSConfig()
	if err != nil {
		t.Fatalf("server tls config: %v", err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	tlsLn := tls.NewListener(ln, serverTLS)
	go func() {
		for {
			conn, err := tlsLn.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				req, err := frame.ReadPacket(bufio.NewReader(conn), frame.DefaultLimits())
				if err != nil {
					return
				}
				ack := protocol.NewPacket(protocol.TypeAck, "peer", req.ClusterID, protocol.Payload{})
				_ = frame.WritePacket(conn, ack)
			}(conn)
		}
	}()
	return ln.Addr().String()
}

func TestSendOverMutualTLS(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	ca := tlstest.NewAuthority(t, dir, "edgemesh-test-ca")
	serverCert, serverKey := ca.IssueServerCert(t, dir, "server")
	clientCert, clientKey := ca.IssueClientCert(t, dir, "node")

	serverCfg := DefaultConfig()
	serverCfg.TLS = TLSConfig{Enabled: true, Mutual: true, CertFile: serverCert, KeyFile: serverKey, CAFile: ca.CAFile()}
	addr := tlsPeer(t, serverCfg)

	clientCfg := DefaultConfig()
	clientCfg.TLS = TLSConfig{Enabled: true, Mutual: true, CertFile: clientCert, KeyFile: clientKey, CAFile: ca.CAFile()}
	p := protocol.NewPacket(protocol.TypeKeepAlive, "node-1", "c1", protocol.Payload{})
	if err := NewSender(clientCfg).Send(context.Background(), addr, p); err != nil {
		t.Fatalf("send over mtls: %v", err)
	}

	anonCfg := DefaultConfig()
	anonCfg.TLS = TLSConfig{Enabled: true, CAFile: ca.CAFile()}
	if err := NewSender(anonCfg).Send(context.Background(), addr, p); err == nil {
		t.Fatalf("expected server to refuse a client without a certificate")
	}
}

func TestSendRejectsUntrustedServer(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	ca := tlstest.NewAuthority(t, t.TempDir(), "server-ca")
	serverCert, serverKey := ca.IssueServerCert(t, dir, "server")
	serverCfg := DefaultConfig()
	serverCfg.TLS = TLSConfig{Enabled: true, CertFile: serverCert, KeyFile: serverKey}
	addr := tlsPeer(t, serverCfg)

	other := tlstest.NewAuthority(t, t.TempDir(), "other-ca")
	clientCfg := DefaultConfig()
	clientCfg.TLS = TLSConfig{Enabled: true, CAFile: other.CAFile()}
	p := protocol.NewPacket(protocol.TypeKeepAlive, "node-1", "c1", protocol.Payload{})
	if err := NewSender(clientCfg).Send(context.Background(), addr, p); err == nil {
		t.Fatalf("expected handshake against an untrusted server to fail")
	}
}
