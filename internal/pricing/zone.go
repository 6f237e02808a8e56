package pricing

import "fmt"

// DefaultZoneID identifies the fallback zone used when no configured zone matches.
const DefaultZoneID = 0

// Delivery estimates for the special resolution paths.
const (
	DigitalZoneName     = "digital"
	DigitalDeliveryTime = "immediate"
	FallbackZoneName    = "fallback"
)

// ShippingMethod is a priced delivery option inside a zone.
type ShippingMethod struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Enabled      bool   `json:"enabled"`
	Cost         Money  `json:"cost"`
	DeliveryTime string `json:"deliveryTime,omitempty"`
}

// ShippingZone groups postcode locations with the methods available there.
// ID 0 is reserved for DefaultZone: a listed zone with ID 0 is never matched
// by ResolveShipping, so callers must give every configured zone a nonzero ID.
type ShippingZone struct {
	ID        int                `json:"id"`
	Name      string             `json:"name"`
	Locations []PostcodeLocation `json:"locations"`
	Methods   []ShippingMethod   `json:"methods"`
}

// DefaultZone is the sentinel zone (ID 0) covering locations outside every other zone.
type DefaultZone struct {
	Name    string           `json:"name"`
	Methods []ShippingMethod `json:"methods"`
}

// ShippingResolution describes the shipping charge chosen for a cart and postcode.
type ShippingResolution struct {
	ZoneID              int    `json:"zoneId"`
	ZoneName            string `json:"zoneName"`
	MethodID            string `json:"methodId,omitempty"`
	MethodTitle         string `json:"methodTitle,omitempty"`
	Cost                Money  `json:"cost"`
	OriginalCost        *Money `json:"originalCost,omitempty"`
	DeliveryTime        string `json:"deliveryTime"`
	FreeShippingApplied bool   `json:"freeShippingApplied,omitempty"`
	Fallback            bool   `json:"fallback,omitempty"`
	Digital             bool   `json:"digital,omitempty"`
	Reason              string `json:"reason,omitempty"`
}

// Outcome labels which resolution path produced the result.
func (r ShippingResolution) Outcome() string {
	switch {
	case r.Digital:
		return "digital"
	case r.Fallback:
		return "fallback"
	case r.ZoneID == DefaultZoneID:
		return "default"
	default:
		return "zone"
	}
}

func firstEnabled(methods []ShippingMethod) (ShippingMethod, bool) {
	for _, m := range methods {
		if m.Enabled {
			return m, true
		}
	}
	return ShippingMethod{}, false
}

func (z ShippingZone) matches(m *Matcher, postcode string) bool {
	for _, loc := range z.Locations {
		if m.Matches(postcode, loc.Code) {
			return true
		}
	}
	return false
}

// ResolveShipping picks the shipping charge for postcode from zones. Zones are
// scanned in the given order and the first one with a matching location and an
// enabled method wins. Carts that contain only digital lines never ship.
func (e *Engine) ResolveShipping(postcode string, zones []ShippingZone, def DefaultZone, cart Cart, subtotal Money) ShippingResolution {
	if cart.AllDigital() {
		return ShippingResolution{
			ZoneID:       DefaultZoneID,
			ZoneName:     DigitalZoneName,
			Cost:         zero,
			DeliveryTime: DigitalDeliveryTime,
			Digital:      true,
			Reason:       "cart contains only digital products, no shipment required",
		}
	}

	res, ok := e.scanZones(postcode, zones)
	if !ok {
		res = e.defaultResolution(def)
	}
	return e.applyThreshold(res, subtotal)
}

func (e *Engine) scanZones(postcode string, zones []ShippingZone) (ShippingResolution, bool) {
	for _, zone := range zones {
		if zone.ID == DefaultZoneID {
			continue
		}
		if !zone.matches(e.matcher, postcode) {
			continue
		}
		method, ok := firstEnabled(zone.Methods)
		if !ok {
			continue
		}
		return e.methodResolution(zone.ID, zone.Name, method), true
	}
	return ShippingResolution{}, false
}

func (e *Engine) defaultResolution(def DefaultZone) ShippingResolution {
	if method, ok := firstEnabled(def.Methods); ok {
		name := def.Name
		if name == "" {
			name = "default"
		}
		return e.methodResolution(DefaultZoneID, name, method)
	}
	return ShippingResolution{
		ZoneID:       DefaultZoneID,
		ZoneName:     FallbackZoneName,
		Cost:         nonNegative(e.cfg.FallbackShippingCost),
		DeliveryTime: e.cfg.DefaultDeliveryTime,
		Fallback:     true,
		Reason:       "no shipping zone configured for this postcode, shipping estimate approximate",
	}
}

func (e *Engine) methodResolution(zoneID int, zoneName string, method ShippingMethod) ShippingResolution {
	delivery := method.DeliveryTime
	if delivery == "" {
		delivery = e.cfg.DefaultDeliveryTime
	}
	return ShippingResolution{
		ZoneID:       zoneID,
		ZoneName:     zoneName,
		MethodID:     method.ID,
		MethodTitle:  method.Title,
		Cost:         nonNegative(method.Cost),
		DeliveryTime: delivery,
	}
}

func (e *Engine) applyThreshold(res ShippingResolution, subtotal Money) ShippingResolution {
	threshold := e.cfg.FreeShippingThreshold
	if !threshold.IsPositive() || res.Cost.IsZero() || subtotal.LessThan(threshold) {
		return res
	}
	return waive(res, fmt.Sprintf("order subtotal %s reached the free shipping threshold of %s", subtotal.StringFixed(2), threshold.StringFixed(2)))
}

func waive(res ShippingResolution, reason string) ShippingResolution {
	original := res.Cost
	res.OriginalCost = &original
	res.Cost = zero
	res.FreeShippingApplied = true
	res.Reason = reason
	return res
}
