package storage

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/lorawan-server/lorawan-analyzer/internal/models"
)

// ========== Gateway Methods ==========

// TouchGateway records that gatewayID was heard at seen
func (s *PostgresStore) TouchGateway(ctx context.Context, gatewayID string, seen time.Time) error {
	query := `
		INSERT INTO gateways (gateway_id, first_seen, last_seen)
		VALUES ($1, $2, $2)
		ON CONFLICT (gateway_id) DO UPDATE SET
			first_seen = LEAST(gateways.first_seen, EXCLUDED.first_seen),
			last_seen  = GREATEST(gateways.last_seen, EXCLUDED.last_seen)`

	_, err := s.getDB().ExecContext(ctx, query, strings.ToLower(gatewayID), seen)
	return translateError(err)
}

// UpsertGatewayLocation stores the position and name of a gateway. An empty
// name keeps the stored one.
func (s *PostgresStore) UpsertGatewayLocation(ctx context.Context, loc models.GatewayLocation, seen time.Time) error {
	query := `
		INSERT INTO gateways (gateway_id, name, latitude, longitude, altitude, first_seen, last_seen)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (gateway_id) DO UPDATE SET
			name      = COALESCE(EXCLUDED.name, gateways.name),
			latitude  = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude,
			altitude  = COALESCE(EXCLUDED.altitude, gateways.altitude),
			last_seen = GREATEST(gateways.last_seen, EXCLUDED.last_seen)`

	var alt sql.NullFloat64
	if loc.Altitude != nil {
		alt = sql.NullFloat64{Float64: *loc.Altitude, Valid: true}
	}
	_, err := s.getDB().ExecContext(ctx, query,
		strings.ToLower(loc.GatewayID), nullString(loc.Name),
		loc.Latitude, loc.Longitude, alt, seen,
	)
	return translateError(err)
}

const gatewayColumns = `gateway_id, name, latitude, longitude, altitude, first_seen, last_seen`

// GetGateway gets a gateway by ID
func (s *PostgresStore) GetGateway(ctx context.Context, gatewayID string) (*models.Gateway, error) {
	row := s.getDB().QueryRowContext(ctx,
		`SELECT `+gatewayColumns+` FROM gateways WHERE gateway_id = $1`,
		strings.ToLower(gatewayID))

	gw, err := scanGateway(row)
	if err != nil {
		return nil, translateError(err)
	}
	return gw, nil
}

// ListGateways returns gateways, most recently seen first
func (s *PostgresStore) ListGateways(ctx context.Context) ([]*models.Gateway, error) {
	rows, err := s.getDB().QueryContext(ctx,
		`SELECT `+gatewayColumns+` FROM gateways ORDER BY last_seen DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var gateways []*models.Gateway
	for rows.Next() {
		gw, err := scanGateway(rows)
		if err != nil {
			return nil, err
		}
		gateways = append(gateways, gw)
	}
	return gateways, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanGateway(row scanner) (*models.Gateway, error) {
	gw := &models.Gateway{}
	var name sql.NullString
	var lat, lon, alt sql.NullFloat64
	if err := row.Scan(&gw.GatewayID, &name, &lat, &lon, &alt, &gw.FirstSeen, &gw.LastSeen); err != nil {
		return nil, err
	}
	gw.Name = name.String
	gw.Latitude = floatPtr(lat)
	gw.Longitude = floatPtr(lon)
	gw.Altitude = floatPtr(alt)
	return gw, nil
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
