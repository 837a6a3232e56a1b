package registry

import (
	"context"

	"github.com/rs/zerolog/log"
)

// Prober checks that a peer is still reachable.
type Prober interface {
	Probe(ctx context.Context, rec Record) error
}

// ProberFunc adapts a function into a Prober.
type ProberFunc func(ctx context.Context, rec Record) error

func (f ProberFunc) Probe(ctx context.Context, rec Record) error {
	return f(ctx, rec)
}

// EvictReason says why a sweep removed a peer.
type EvictReason string

const (
	EvictUnreachable EvictReason = "unreachable"
	EvictStale       EvictReason = "stale"
)

// SweepReport lists what one sweep did, by peer id.
type SweepReport struct {
	Expired   []string
	Refreshed []string
	Evicted   []string
}

// SweepExpired visits every record past its keep-alive timeout. Critical
// peers are probed and evicted only when the probe fails; generic peers are
// evicted without a probe. A peer that shows activity while its probe is in
// flight is kept.
func (r *Registry) SweepExpired(ctx context.Context) SweepReport {
	now := r.now()
	var expired []Record
	for _, rec := range r.Snapshot() {
		if rec.Expired(now) {
			expired = append(expired, rec)
		}
	}

	var report SweepReport
	for _, rec := range expired {
		if ctx.Err() != nil {
			break
		}
		report.Expired = append(report.Expired, rec.ID)
		switch rec.Priority {
		case PriorityGeneric:
			if r.evict(rec, EvictStale) {
				report.Evicted = append(report.Evicted, rec.ID)
			}
		default:
			if err := r.probe(ctx, rec); err != nil {
				if ctx.Err() != nil {
					// The sweep was cancelled, not the peer proven unreachable.
					log.Debug().
						Err(err).
						Str("peer_id", rec.ID).
						Msg("registry.SweepExpired cancelled during probe")
					return report
				}
				log.Warn().
					Err(err).
					Str("peer_id", rec.ID).
					Str("addr", rec.Addr()).
					Msg("registry.SweepExpired probe failed")
				if r.evict(rec, EvictUnreachable) {
					report.Evicted = append(report.Evicted, rec.ID)
				}
				continue
			}
			r.Touch(rec.ID)
			report.Refreshed = append(report.Refreshed, rec.ID)
		}
	}
	return report
}

func (r *Registry) probe(ctx context.Context, rec Record) error {
	if r.prober == nil {
		return errNoProber
	}
	return r.prober.Probe(ctx, rec)
}

func (r *Registry) evict(rec Record, reason EvictReason) bool {
	removed, ok := r.removeIfIdle(rec.ID, rec.LastActivity)
	if !ok {
		return false
	}
	log.Info().
		Str("peer_id", removed.ID).
		Str("addr", removed.Addr()).
		Str("priority", string(removed.Priority)).
		Str("reason", string(reason)).
		Msg("registry.SweepExpired evicted")
	if r.onEvict != nil {
		r.onEvict(removed, reason)
	}
	return true
}
