package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/lorawan-server/lorawan-analyzer/internal/models"
)

// ========== Custom Operator Methods ==========

// CreateCustomOperator inserts op and fills its ID and CreatedAt
func (s *PostgresStore) CreateCustomOperator(ctx context.Context, op *models.CustomOperator) error {
	if op.CreatedAt.IsZero() {
		op.CreatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO custom_operators (prefix, name, priority, color, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	err := s.getDB().QueryRowContext(ctx, query,
		op.Prefix, op.Name, op.Priority, nullString(op.Color), op.CreatedAt,
	).Scan(&op.ID)
	return translateError(err)
}

// DeleteCustomOperator removes an operator rule
func (s *PostgresStore) DeleteCustomOperator(ctx context.Context, id int64) error {
	res, err := s.getDB().ExecContext(ctx, `DELETE FROM custom_operators WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return expectRow(res)
}

// ListCustomOperators returns all operator rules, highest priority first
func (s *PostgresStore) ListCustomOperators(ctx context.Context) ([]*models.CustomOperator, error) {
	rows, err := s.getDB().QueryContext(ctx, `
		SELECT id, prefix, name, priority, color, created_at
		FROM custom_operators
		ORDER BY priority DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ops []*models.CustomOperator
	for rows.Next() {
		op := &models.CustomOperator{}
		var color sql.NullString
		if err := rows.Scan(&op.ID, &op.Prefix, &op.Name, &op.Priority, &color, &op.CreatedAt); err != nil {
			return nil, err
		}
		op.Color = color.String
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// ========== Hide Rule Methods ==========

// CreateHideRule inserts rule and fills its ID and CreatedAt
func (s *PostgresStore) CreateHideRule(ctx context.Context, rule *models.HideRule) error {
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO hide_rules (type, prefix, description, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id`

	err := s.getDB().QueryRowContext(ctx, query,
		string(rule.Type), rule.Prefix, nullString(rule.Description), rule.CreatedAt,
	).Scan(&rule.ID)
	return translateError(err)
}

// DeleteHideRule removes a hide rule
func (s *PostgresStore) DeleteHideRule(ctx context.Context, id int64) error {
	res, err := s.getDB().ExecContext(ctx, `DELETE FROM hide_rules WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return expectRow(res)
}

// ListHideRules returns all hide rules in creation order
func (s *PostgresStore) ListHideRules(ctx context.Context) ([]*models.HideRule, error) {
	rows, err := s.getDB().QueryContext(ctx, `
		SELECT id, type, prefix, description, created_at
		FROM hide_rules
		ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*models.HideRule
	for rows.Next() {
		rule := &models.HideRule{}
		var typ string
		var desc sql.NullString
		if err := rows.Scan(&rule.ID, &typ, &rule.Prefix, &desc, &rule.CreatedAt); err != nil {
			return nil, err
		}
		rule.Type = models.HideRuleType(typ)
		rule.Description = desc.String
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func expectRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
