package zones

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-pricing/internal/obs"
	"github.com/noah-isme/toko-pricing/internal/pricing"
)

// Snapshot is an in-memory copy of the store's shipping configuration. Zones
// are in priority order.
type Snapshot struct {
	Zones     []pricing.ShippingZone `json:"zones"`
	Default   pricing.DefaultZone    `json:"default"`
	FetchedAt time.Time              `json:"fetchedAt"`
}

// Source loads shipping zones from wherever the store keeps them.
type Source interface {
	Load(ctx context.Context) (Snapshot, error)
}

// Loader wraps a Source and never fails: when the source errors the caller
// gets an empty snapshot, which resolves through the default zone.
type Loader struct {
	Source Source
	Name   string
	Logger zerolog.Logger
}

// Load returns the current snapshot or an empty one on failure.
func (l Loader) Load(ctx context.Context) Snapshot {
	name := l.Name
	if name == "" {
		name = "zones"
	}
	if l.Source == nil {
		obs.IncCounter(obs.ZoneFetchTotal, name, "unconfigured")
		return Snapshot{}
	}
	start := time.Now()
	snap, err := l.Source.Load(ctx)
	obs.ObserveHistogram(obs.ZoneFetchLatency, obs.DurationMillis(time.Since(start)), name)
	if err != nil {
		obs.IncCounter(obs.ZoneFetchTotal, name, "error")
		l.Logger.Warn().Err(err).Str("source", name).Msg("zone_fetch_failed")
		return Snapshot{}
	}
	obs.IncCounter(obs.ZoneFetchTotal, name, "ok")
	return snap
}
