package zones

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/toko-pricing/internal/pricing"
	"github.com/noah-isme/toko-pricing/internal/resilience"
)

// ErrBackendStatus is returned when the commerce backend answers with a non-2xx status.
var ErrBackendStatus = errors.New("zones: unexpected backend status")

// Doer executes HTTP requests. resilience.HTTPClient satisfies it.
type Doer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

var _ Doer = resilience.HTTPClient{}

// BackendClient reads shipping zones from the commerce backend REST API
// (/shipping/zones, /shipping/zones/{id}/locations, /shipping/zones/{id}/methods).
type BackendClient struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	HTTP           Doer
	// MaxConcurrent bounds the per-zone detail requests in flight.
	MaxConcurrent int
	Logger        zerolog.Logger
	Now           func() time.Time
}

type backendZone struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Order int    `json:"order"`
}

type backendLocation struct {
	Code string `json:"code"`
	Type string `json:"type"`
}

type backendSetting struct {
	Value string `json:"value"`
}

type backendMethod struct {
	InstanceID int                       `json:"instance_id"`
	Title      string                    `json:"title"`
	Order      int                       `json:"order"`
	Enabled    bool                      `json:"enabled"`
	MethodID   string                    `json:"method_id"`
	Settings   map[string]backendSetting `json:"settings"`
}

// Load fetches all zones with their locations and methods.
func (c *BackendClient) Load(ctx context.Context) (Snapshot, error) {
	var listed []backendZone
	if err := c.get(ctx, "/shipping/zones", &listed); err != nil {
		return Snapshot{}, fmt.Errorf("list zones: %w", err)
	}
	sort.SliceStable(listed, func(i, j int) bool { return listed[i].Order < listed[j].Order })

	zones := make([]pricing.ShippingZone, len(listed))
	g, gctx := errgroup.WithContext(ctx)
	limit := c.MaxConcurrent
	if limit <= 0 {
		limit = 4
	}
	g.SetLimit(limit)
	for i := range listed {
		i := i
		g.Go(func() error {
			zone, err := c.loadZone(gctx, listed[i])
			if err != nil {
				return fmt.Errorf("zone %d: %w", listed[i].ID, err)
			}
			zones[i] = zone
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{FetchedAt: c.now()}
	for _, zone := range zones {
		if zone.ID == pricing.DefaultZoneID {
			snap.Default = pricing.DefaultZone{Name: zone.Name, Methods: zone.Methods}
			continue
		}
		snap.Zones = append(snap.Zones, zone)
	}
	return snap, nil
}

func (c *BackendClient) loadZone(ctx context.Context, z backendZone) (pricing.ShippingZone, error) {
	zone := pricing.ShippingZone{ID: z.ID, Name: z.Name}
	if z.ID != pricing.DefaultZoneID {
		var locations []backendLocation
		if err := c.get(ctx, fmt.Sprintf("/shipping/zones/%d/locations", z.ID), &locations); err != nil {
			return zone, err
		}
		for _, loc := range locations {
			if loc.Type != "postcode" {
				continue
			}
			zone.Locations = append(zone.Locations, pricing.NewPostcodeLocation(strings.TrimSpace(loc.Code)))
		}
	}
	var methods []backendMethod
	if err := c.get(ctx, fmt.Sprintf("/shipping/zones/%d/methods", z.ID), &methods); err != nil {
		return zone, err
	}
	sort.SliceStable(methods, func(i, j int) bool { return methods[i].Order < methods[j].Order })
	for _, m := range methods {
		zone.Methods = append(zone.Methods, c.toMethod(z.ID, m))
	}
	return zone, nil
}

// toMethod maps a backend method. A cost that is not a plain number (for
// example a "[qty]" formula) disables the method so it is never priced at zero.
func (c *BackendClient) toMethod(zoneID int, m backendMethod) pricing.ShippingMethod {
	method := pricing.ShippingMethod{
		ID:           m.MethodID + ":" + strconv.Itoa(m.InstanceID),
		Title:        m.Title,
		Enabled:      m.Enabled,
		Cost:         decimal.Zero,
		DeliveryTime: strings.TrimSpace(m.Settings["delivery_time"].Value),
	}
	raw := strings.TrimSpace(m.Settings["cost"].Value)
	if raw == "" {
		return method
	}
	cost, err := decimal.NewFromString(strings.ReplaceAll(raw, ",", "."))
	if err != nil || cost.IsNegative() {
		c.Logger.Warn().Int("zone_id", zoneID).Str("method_id", method.ID).Str("cost", raw).Msg("shipping_method_cost_unparsable")
		method.Enabled = false
		return method
	}
	method.Cost = cost
	return method
}

func (c *BackendClient) get(ctx context.Context, path string, dst any) error {
	if c.HTTP == nil {
		return errors.New("zones: backend http client not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(c.BaseURL, "/")+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if c.ConsumerKey != "" {
		req.SetBasicAuth(c.ConsumerKey, c.ConsumerSecret)
	}
	resp, err := c.HTTP.Do(ctx, req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("%w: %s %s", ErrBackendStatus, path, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}

func (c *BackendClient) now() time.Time {
	if c.Now != nil {
		return c.Now().UTC()
	}
	return time.Now().UTC()
}
