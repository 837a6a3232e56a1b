package config

import (
	"fmt"
	"net"
	"os"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// PeerEntry is where one named peer listens.
type PeerEntry struct {
	IP   string `yaml:"ip"`
	Port int    `yaml:"port"`
}

func (e PeerEntry) Addr() string {
	return net.JoinHostPort(e.IP, strconv.Itoa(e.Port))
}

// Directory maps logical peer names to endpoints:
//
//	peers:
//	  coordinator:
//	    ip: 10.0.0.1
//	    port: 7000
type Directory struct {
	Peers map[string]PeerEntry `yaml:"peers"`
}

func LoadDirectory(path string) (Directory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Directory{}, fmt.Errorf("peers file: %w", err)
	}
	var dir Directory
	if err := yaml.Unmarshal(data, &dir); err != nil {
		return Directory{}, fmt.Errorf("peers file %s: %w", path, err)
	}
	if err := dir.Validate(); err != nil {
		return Directory{}, fmt.Errorf("peers file %s: %w", path, err)
	}
	return dir, nil
}

// SaveDirectory writes dir as YAML.
func SaveDirectory(path string, dir Directory) error {
	if err := dir.Validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(&dir)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (d Directory) Validate() error {
	for _, name := range d.Names() {
		e := d.Peers[name]
		if strings.TrimSpace(e.IP) == "" {
			return fmt.Errorf("peer %q: ip is required", name)
		}
		if e.Port <= 0 || e.Port > 65535 {
			return fmt.Errorf("peer %q: port %d out of range", name, e.Port)
		}
	}
	return nil
}

// Resolve returns the "ip:port" of a named peer.
func (d Directory) Resolve(name string) (string, error) {
	e, ok := d.Peers[strings.TrimSpace(name)]
	if !ok {
		return "", fmt.Errorf("peer %q not in peers file", name)
	}
	return e.Addr(), nil
}

// Names returns the peer names in sorted order.
func (d Directory) Names() []string {
	out := make([]string, 0, len(d.Peers))
	for name := range d.Peers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
