package main

import (
	"fmt"
	"path/filepath"

	"github.com/danmuck/edgemesh/internal/config"
	"github.com/danmuck/edgemesh/internal/tier"
	"github.com/spf13/cobra"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Write and check tier config files",
	}
	cmd.AddCommand(configInitCmd(), configValidateCmd())
	return cmd
}

func configInitCmd() *cobra.Command {
	var (
		dir   string
		force bool
	)
	cmd := &cobra.Command{
		Use:   "init [coordinator|server|node|peers ...]",
		Short: "Write starter config files",
		RunE: func(cmd *cobra.Command, args []string) error {
			kinds := args
			if len(kinds) == 0 {
				kinds = []string{"coordinator", "server", "node", "peers"}
			}
			for _, kind := range kinds {
				name := kind + ".toml"
				if kind == "peers" {
					name = "peers.yaml"
				}
				path := filepath.Join(dir, name)
				if err := config.WriteTemplate(path, kind, force); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", ".", "directory to write into")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing files")
	return cmd
}

func configValidateCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "validate <coordinator|server|node>",
		Short: "Load a tier config and report what it resolves to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			role, err := tier.ParseRole(args[0])
			if err != nil {
				return err
			}
			if path == "" {
				path = role.Name + ".toml"
			}
			rt, err := config.Load(path, role)
			if err != nil {
				return err
			}
			if _, err := rt.ServiceOptions(); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "role=%s\n", rt.Service.Role)
			fmt.Fprintf(out, "listen_addr=%s\n", rt.Service.ListenAddr)
			if rt.Service.UpstreamAddr != "" {
				fmt.Fprintf(out, "upstream_addr=%s\n", rt.Service.UpstreamAddr)
			}
			fmt.Fprintf(out, "keep_alive_timeout=%s\n", rt.Service.KeepAliveTimeout)
			fmt.Fprintf(out, "tls=%t\n", rt.Service.Session.TLS.Enabled)
			return nil
		},
	}
	cmd.Flags().StringVarP(&path, "config", "c", "", "config file (default <role>.toml)")
	return cmd
}
