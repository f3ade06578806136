// Package location pulls gateway positions out of application uplink events.
package location

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/lorawan-server/lorawan-analyzer/internal/frame"
	"github.com/lorawan-server/lorawan-analyzer/internal/models"
	"github.com/lorawan-server/lorawan-analyzer/internal/wire"
)

// Extractor returns the gateway locations found in one application event,
// in payload order with at most one entry per gateway.
type Extractor interface {
	Extract(payload []byte) ([]models.GatewayLocation, error)
}

// NewExtractor returns the extractor for the configured payload format.
func NewExtractor(f frame.Format) (Extractor, error) {
	switch f {
	case frame.FormatProtobuf:
		return BinaryExtractor{}, nil
	case frame.FormatJSON:
		return JSONExtractor{}, nil
	default:
		return nil, fmt.Errorf("unsupported payload format %q", f)
	}
}

// BinaryExtractor walks the rx_info entries of a protobuf UplinkEvent.
type BinaryExtractor struct{}

// Extract never fails on malformed input; entries decoded before the damage
// are returned.
func (BinaryExtractor) Extract(payload []byte) ([]models.GatewayLocation, error) {
	var c collector
	d := wire.NewDecoder(payload)
	for f, ok := d.Next(); ok; f, ok = d.Next() {
		if f.Number == frame.UplinkEventRxInfo && f.Type == wire.Bytes {
			c.add(frame.DecodeRxInfo(f.Bytes()))
		}
	}
	return c.out, nil
}

// JSONExtractor reads the rxInfo array of a JSON UplinkEvent.
type JSONExtractor struct{}

func (JSONExtractor) Extract(payload []byte) ([]models.GatewayLocation, error) {
	var ev struct {
		RxInfo []frame.JSONRxInfo `json:"rxInfo"`
	}
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("unmarshal uplink event: %w", err)
	}
	var c collector
	for i := range ev.RxInfo {
		c.add(ev.RxInfo[i].RxInfo())
	}
	return c.out, nil
}

type collector struct {
	seen map[string]struct{}
	out  []models.GatewayLocation
}

// add keeps only the first rx_info of each gateway, whether or not that
// entry carries a usable position. Ids are lowercased like topic gateway ids.
func (c *collector) add(rx frame.RxInfo) {
	if rx.GatewayID == "" {
		return
	}
	rx.GatewayID = strings.ToLower(rx.GatewayID)
	if _, dup := c.seen[rx.GatewayID]; dup {
		return
	}
	if c.seen == nil {
		c.seen = make(map[string]struct{})
	}
	c.seen[rx.GatewayID] = struct{}{}

	if loc, ok := Resolve(rx); ok {
		c.out = append(c.out, loc)
	}
}

// Resolve picks the position of one rx_info. The structured location is
// preferred; the metadata map is the fallback. 0,0 means no position.
func Resolve(rx frame.RxInfo) (models.GatewayLocation, bool) {
	loc := models.GatewayLocation{
		GatewayID: rx.GatewayID,
		Name:      lookup(rx.Metadata, "name", "gateway_name"),
	}

	if l := rx.Location; l != nil && !(l.Latitude == 0 && l.Longitude == 0) {
		loc.Latitude = l.Latitude
		loc.Longitude = l.Longitude
		if l.Altitude != 0 {
			alt := l.Altitude
			loc.Altitude = &alt
		}
		return loc, true
	}

	lat, okLat := parseCoord(lookup(rx.Metadata, "latitude", "lat"))
	lon, okLon := parseCoord(lookup(rx.Metadata, "longitude", "lon", "lng"))
	if !okLat || !okLon || (lat == 0 && lon == 0) {
		return models.GatewayLocation{}, false
	}
	loc.Latitude = lat
	loc.Longitude = lon
	if alt, ok := parseCoord(lookup(rx.Metadata, "altitude", "alt")); ok {
		loc.Altitude = &alt
	}
	return loc, true
}

func lookup(m map[string]string, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func parseCoord(s string) (float64, bool) {
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
