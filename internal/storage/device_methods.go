package storage

import (
	"context"
	"database/sql"
	"strings"

	"github.com/lorawan-server/lorawan-analyzer/internal/models"
)

// ========== Device Metadata Methods ==========

// UpsertDeviceMetadata replaces the record stored for rec.DevAddr
func (s *PostgresStore) UpsertDeviceMetadata(ctx context.Context, rec models.DeviceMetadata) error {
	if rec.DevAddr == "" {
		return ErrInvalidData
	}
	query := `
		INSERT INTO device_metadata (dev_addr, dev_eui, device_name, application_name, last_updated)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (dev_addr) DO UPDATE SET
			dev_eui          = EXCLUDED.dev_eui,
			device_name      = EXCLUDED.device_name,
			application_name = EXCLUDED.application_name,
			last_updated     = EXCLUDED.last_updated`

	_, err := s.getDB().ExecContext(ctx, query,
		strings.ToLower(rec.DevAddr), nullString(rec.DevEUI),
		nullString(rec.DeviceName), nullString(rec.ApplicationName), rec.LastUpdated,
	)
	return translateError(err)
}

// GetDeviceMetadata gets the record for a DevAddr
func (s *PostgresStore) GetDeviceMetadata(ctx context.Context, devAddr string) (*models.DeviceMetadata, error) {
	row := s.getDB().QueryRowContext(ctx, `
		SELECT dev_addr, dev_eui, device_name, application_name, last_updated
		FROM device_metadata
		WHERE dev_addr = $1`, strings.ToLower(devAddr))

	rec, err := scanDeviceMetadata(row)
	if err != nil {
		return nil, translateError(err)
	}
	return rec, nil
}

// ListDeviceMetadata returns every stored record
func (s *PostgresStore) ListDeviceMetadata(ctx context.Context) ([]*models.DeviceMetadata, error) {
	rows, err := s.getDB().QueryContext(ctx, `
		SELECT dev_addr, dev_eui, device_name, application_name, last_updated
		FROM device_metadata`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.DeviceMetadata
	for rows.Next() {
		rec, err := scanDeviceMetadata(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanDeviceMetadata(row scanner) (*models.DeviceMetadata, error) {
	rec := &models.DeviceMetadata{}
	var devEUI, deviceName, appName sql.NullString
	if err := row.Scan(&rec.DevAddr, &devEUI, &deviceName, &appName, &rec.LastUpdated); err != nil {
		return nil, err
	}
	rec.DevEUI = devEUI.String
	rec.DeviceName = deviceName.String
	rec.ApplicationName = appName.String
	return rec, nil
}
