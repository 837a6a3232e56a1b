package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danmuck/edgemesh/internal/config"
	"github.com/danmuck/edgemesh/internal/observability"
	"github.com/danmuck/edgemesh/internal/tier"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func runCmd(role tier.Role) *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   role.Name,
		Short: fmt.Sprintf("Run the %s tier", role.Name),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, svc, err := buildService(path, role)
			if err != nil {
				return err
			}
			observability.InitLogger(role.Name, svc.Identity().ID())
			observability.RegisterMetrics()
			shutdownTracing, err := observability.InitTracing(rt.Tracing, role.Name, svc.Identity().ID(), cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdownTracing(ctx); err != nil {
					log.Warn().Err(err).Msg("edgectl tracing shutdown")
				}
			}()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			log.Info().
				Str("config", path).
				Str("listen_addr", svc.Config().ListenAddr).
				Str("upstream_addr", svc.Config().UpstreamAddr).
				Msg("edgectl starting")
			if err := svc.Run(ctx); err != nil {
				return fmt.Errorf("%s: %w", role.Name, err)
			}
			log.Info().Msg("edgectl stopped")
			return nil
		},
	}
	cmd.Flags().StringVarP(&path, "config", "c", role.Name+".toml", "path to the tier's config file")
	return cmd
}

func buildService(path string, role tier.Role) (config.Runtime, *tier.Service, error) {
	rt, err := config.Load(path, role)
	if err != nil {
		return config.Runtime{}, nil, err
	}
	opts, err := rt.ServiceOptions()
	if err != nil {
		return rt, nil, fmt.Errorf("%s tokens: %w", role.Name, err)
	}
	svc, err := tier.NewService(rt.Service, opts...)
	return rt, svc, err
}
