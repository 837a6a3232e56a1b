package main

import (
	"bytes"
	"context"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/edgemesh/internal/auth"
	"github.com/danmuck/edgemesh/internal/testutil/testlog"
	"github.com/danmuck/edgemesh/internal/tier"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func startCoordinator(t *testing.T) (*tier.Service, string) {
	t.Helper()
	issuer, err := auth.NewHMACIssuer([]byte("cli-secret"))
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}
	cfg := tier.DefaultServiceConfig(tier.Coordinator)
	cfg.ID = "coord"
	cfg.AcceptTimeout = 50 * time.Millisecond
	svc, err := tier.NewService(cfg, tier.WithIssuer(issuer))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = svc.Serve(ctx, ln)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return svc, ln.Addr().String()
}

func valueOf(out, key string) string {
	for _, line := range strings.Split(out, "\n") {
		if v, ok := strings.CutPrefix(line, key+"="); ok {
			return v
		}
	}
	return ""
}

func TestRegisterThenSend(t *testing.T) {
	testlog.Start(t)
	svc, addr := startCoordinator(t)

	out, err := execute(t, "register", "--addr", addr, "--port", "9100")
	if err != nil {
		t.Fatalf("register: %v\n%s", err, out)
	}
	id, cluster := valueOf(out, "id"), valueOf(out, "clusterId")
	if id == "" || cluster == "" || valueOf(out, "parentId") != "coord" || valueOf(out, "token") == "" {
		t.Fatalf("unexpected register output:\n%s", out)
	}
	if !svc.Registry().Contains(id) {
		t.Fatalf("coordinator did not record %s", id)
	}

	out, err = execute(t, "send", "--addr", addr, "--sender", id, "--cluster", cluster, "greeting=hello", "n=1")
	if err != nil {
		t.Fatalf("send: %v\n%s", err, out)
	}
	if !strings.HasPrefix(out, "acknowledged MESSAGE ") {
		t.Fatalf("unexpected send output: %q", out)
	}
	if got := svc.Inbox().Len(); got != 2 {
		t.Fatalf("expected 2 inbox entries, got %d", got)
	}

	if _, err := execute(t, "send", "--addr", addr, "--sender", id, "--type", "keepalive"); err != nil {
		t.Fatalf("keepalive: %v", err)
	}
	out, err = execute(t, "peers", "--addr", addr, "--sender", id, "--cluster", cluster)
	if err != nil {
		t.Fatalf("peers: %v", err)
	}
	if strings.TrimSpace(out) != "" {
		t.Fatalf("expected no other peers, got %q", out)
	}
}

func TestSendFromUnknownSenderFails(t *testing.T) {
	testlog.Start(t)
	_, addr := startCoordinator(t)
	_, err := execute(t, "send", "--addr", addr, "--sender", "stranger", "--retries", "1", "k=v")
	if err == nil {
		t.Fatalf("expected unknown sender to be refused")
	}
}

func TestSendRejectsBadArguments(t *testing.T) {
	testlog.Start(t)
	cases := [][]string{
		{"send", "--type", "ack", "k=v"},
		{"send", "novalue"},
		{"send"},
		{"register", "--port", "0"},
	}
	for _, args := range cases {
		if _, err := execute(t, args...); err == nil {
			t.Fatalf("expected %v to fail", args)
		}
	}
}

func TestParsePairsKeepsOrder(t *testing.T) {
	testlog.Start(t)
	p, err := parsePairs([]string{"b=2", "a=1", "c=x=y"})
	if err != nil {
		t.Fatalf("parse pairs: %v", err)
	}
	if got := strings.Join(p.Keys(), ","); got != "b,a,c" {
		t.Fatalf("unexpected key order: %s", got)
	}
	if v, _ := p.Get("c"); v != "x=y" {
		t.Fatalf("unexpected value: %q", v)
	}
	if _, err := parsePairs([]string{"a=1", "a=2"}); err == nil {
		t.Fatalf("expected duplicate key error")
	}
}

func TestConfigInitAndValidate(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	out, err := execute(t, "config", "init", "--dir", dir)
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	if strings.Count(out, "wrote ") != 4 {
		t.Fatalf("unexpected init output:\n%s", out)
	}
	if _, err := execute(t, "config", "init", "--dir", dir, "node"); err == nil {
		t.Fatalf("expected init to refuse overwrite")
	}
	out, err = execute(t, "config", "validate", "server", "--config", filepath.Join(dir, "server.toml"))
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	if valueOf(out, "upstream_addr") != "127.0.0.1:7000" {
		t.Fatalf("unexpected validate output:\n%s", out)
	}
	if _, err := execute(t, "config", "validate", "gateway"); err == nil {
		t.Fatalf("expected unknown role error")
	}
}
