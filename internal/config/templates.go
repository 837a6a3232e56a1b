package config

import (
	"fmt"
	"os"
	"strings"
)

// Template returns a starter config.toml for a role name.
func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "coordinator":
		return coordinatorTemplate, nil
	case "server":
		return serverTemplate, nil
	case "node":
		return nodeTemplate, nil
	case "peers":
		return peersTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite && exists(path) {
		return fmt.Errorf("config already exists: %s", path)
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const coordinatorTemplate = `role = "coordinator"
id = "coordinator"
listen_addr = ":7000"
admin_addr = "127.0.0.1:7090"
keep_alive_timeout = "60s"
sweep_interval = "10s"
accept_timeout = "1s"
token_issuer = "edgemesh"
token_secret = "change-me"
token_ttl = "24h"
tracing = "off"
`

const serverTemplate = `role = "server"
listen_addr = ":7100"
admin_addr = "127.0.0.1:7190"
peers_file = "peers.yaml"
upstream = "coordinator"
keep_alive_timeout = "60s"
sweep_interval = "10s"
response_timeout = "1s"
max_retries = 3
retry_delay = "1s"
token_issuer = "edgemesh"
token_secret = "change-me"
`

const nodeTemplate = `role = "node"
listen_addr = ":7200"
peers_file = "peers.yaml"
upstream = "server"
keep_alive_timeout = "60s"
response_timeout = "1s"
max_retries = 3
retry_delay = "1s"
`

const peersTemplate = `peers:
  coordinator:
    ip: 127.0.0.1
    port: 7000
  server:
    ip: 127.0.0.1
    port: 7100
`
