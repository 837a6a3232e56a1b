package tier

import (
	"context"
	"time"

	"github.com/danmuck/edgemesh/internal/observability"
	"github.com/danmuck/edgemesh/internal/protocol"
	"github.com/danmuck/edgemesh/internal/registry"
	"github.com/rs/zerolog/log"
)

// SweepLoop runs SweepOnce every SweepInterval until ctx is cancelled.
func (s *Service) SweepLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

func (s *Service) SweepOnce(ctx context.Context) registry.SweepReport {
	report := s.registry.SweepExpired(ctx)
	observability.SetRegistryPeers(s.cfg.Role.Name, s.registry.Count())
	if len(report.Expired) > 0 {
		log.Debug().
			Strs("expired", report.Expired).
			Strs("refreshed", report.Refreshed).
			Strs("evicted", report.Evicted).
			Msg("tier.SweepOnce")
	}
	return report
}

// probe sends a KEEP_ALIVE through the reliable sender.
func (s *Service) probe(ctx context.Context, rec registry.Record) error {
	self := s.identity.Snapshot()
	p := protocol.NewPacket(protocol.TypeKeepAlive, self.ID, self.ClusterID, protocol.Payload{}).
		WithRecipient(rec.ID)
	return s.sender.Retry(ctx, rec.Addr(), p)
}

func (s *Service) onEvict(rec registry.Record, reason registry.EvictReason) {
	observability.RecordEviction(s.cfg.Role.Name, string(rec.Priority), string(reason))
	if s.client != nil && s.client.IsUpstream(rec.ID) {
		log.Warn().Str("peer_id", rec.ID).Msg("tier.onEvict upstream lost, re-registering")
		s.client.Reregister()
	}
}
