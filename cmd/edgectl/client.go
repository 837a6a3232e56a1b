package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/danmuck/edgemesh/internal/protocol"
	"github.com/danmuck/edgemesh/internal/protocol/schema"
	"github.com/danmuck/edgemesh/internal/protocol/session"
	"github.com/spf13/cobra"
)

// peerFlags are shared by every command that talks to a running tier.
type peerFlags struct {
	addr      string
	sender    string
	cluster   string
	recipient string
	timeout   time.Duration
	retries   int

	tlsCA         string
	tlsCert       string
	tlsKey        string
	tlsServerName string
}

func (f *peerFlags) bind(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVar(&f.addr, "addr", "127.0.0.1:7000", "address of the tier to talk to")
	fs.StringVar(&f.sender, "sender", "edgectl", "sender id stamped on the packet")
	fs.StringVar(&f.cluster, "cluster", "", "cluster id stamped on the packet")
	fs.StringVar(&f.recipient, "recipient", "", "recipient id stamped on the packet")
	fs.DurationVar(&f.timeout, "timeout", time.Second, "response timeout per attempt")
	fs.IntVar(&f.retries, "retries", 3, "attempts before giving up")
	fs.StringVar(&f.tlsCA, "tls-ca", "", "CA bundle; enables TLS")
	fs.StringVar(&f.tlsCert, "tls-cert", "", "client certificate for mutual TLS")
	fs.StringVar(&f.tlsKey, "tls-key", "", "client key for mutual TLS")
	fs.StringVar(&f.tlsServerName, "tls-server-name", "", "expected server name")
}

func (f *peerFlags) newSender() *session.Sender {
	cfg := session.DefaultConfig()
	cfg.ResponseTimeout = f.timeout
	cfg.MaxRetries = f.retries
	if f.tlsCA != "" {
		cfg.TLS = session.TLSConfig{
			Enabled:    true,
			Mutual:     f.tlsCert != "",
			CAFile:     f.tlsCA,
			CertFile:   f.tlsCert,
			KeyFile:    f.tlsKey,
			ServerName: f.tlsServerName,
		}
	}
	return session.NewSender(cfg)
}

func (f *peerFlags) packet(t protocol.PacketType, payload protocol.Payload) protocol.Packet {
	p := protocol.NewPacket(t, f.sender, f.cluster, payload)
	if f.recipient != "" {
		p = p.WithRecipient(f.recipient)
	}
	return p
}

func sendCmd() *cobra.Command {
	var (
		flags   peerFlags
		rawType string
	)
	cmd := &cobra.Command{
		Use:   "send [key=value ...]",
		Short: "Send a MESSAGE or KEEP_ALIVE and wait for the ACK",
		RunE: func(cmd *cobra.Command, args []string) error {
			var t protocol.PacketType
			switch strings.ToLower(strings.TrimSpace(rawType)) {
			case "message":
				t = protocol.TypeMessage
			case "keepalive", "keep_alive":
				t = protocol.TypeKeepAlive
			default:
				return fmt.Errorf("send: unsupported type %q (message|keepalive)", rawType)
			}
			payload, err := parsePairs(args)
			if err != nil {
				return err
			}
			if payload.Empty() && !schema.AllowsEmpty(t) {
				return fmt.Errorf("send: %s needs at least one key=value", t)
			}
			p := flags.packet(t, payload)
			if err := flags.newSender().Retry(cmd.Context(), flags.addr, p); err != nil {
				return fmt.Errorf("send: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "acknowledged %s %s\n", t, p.ID)
			return nil
		},
	}
	flags.bind(cmd)
	cmd.Flags().StringVar(&rawType, "type", "message", "packet type: message or keepalive")
	return cmd
}

func registerCmd() *cobra.Command {
	var (
		flags peerFlags
		port  int
	)
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Send INITIALIZATION and print the identity handed back",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if port <= 0 || port > 65535 {
				return fmt.Errorf("register: --port must be in 1..65535, got %d", port)
			}
			p := flags.packet(protocol.TypeInitialization, protocol.NewPayload(schema.KeyPort, strconv.Itoa(port)))
			resp, err := flags.newSender().RetryRequest(cmd.Context(), flags.addr, p, protocol.TypeInitializationRes)
			if err != nil {
				return fmt.Errorf("register: %w", err)
			}
			if err := schema.Validate(resp); err != nil {
				return fmt.Errorf("register: %w", err)
			}
			printPayload(cmd.OutOrStdout(), resp.Payload)
			return nil
		},
	}
	flags.bind(cmd)
	cmd.Flags().IntVar(&port, "port", 0, "port the registering peer listens on")
	return cmd
}

func peersCmd() *cobra.Command {
	var flags peerFlags
	cmd := &cobra.Command{
		Use:   "peers",
		Short: "Ask a tier for the other members of the sender's cluster",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p := flags.packet(protocol.TypePeerListReq, protocol.Payload{})
			resp, err := flags.newSender().RetryRequest(cmd.Context(), flags.addr, p, protocol.TypePeerListRes)
			if err != nil {
				return fmt.Errorf("peers: %w", err)
			}
			printPayload(cmd.OutOrStdout(), resp.Payload)
			return nil
		},
	}
	flags.bind(cmd)
	return cmd
}

// parsePairs turns key=value arguments into a payload, keeping their order.
func parsePairs(args []string) (protocol.Payload, error) {
	var payload protocol.Payload
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return protocol.Payload{}, fmt.Errorf("argument %q is not key=value", arg)
		}
		if _, dup := payload.Get(key); dup {
			return protocol.Payload{}, fmt.Errorf("duplicate key %q", key)
		}
		payload.Set(key, value)
	}
	return payload, nil
}

func printPayload(w io.Writer, p protocol.Payload) {
	for _, e := range p.Entries() {
		fmt.Fprintf(w, "%s=%s\n", e.Key, e.Value)
	}
}
