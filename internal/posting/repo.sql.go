package posting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian/internal/documents"
	"github.com/meridian-erp/meridian/internal/ledger"
	"github.com/meridian-erp/meridian/internal/platform/db"
)

// Repository implements RepositoryPort on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx runs fn inside one transaction at repeatable read.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const markerColumns = `id, source_entity_type, source_entity_id, trigger_code, company_id,
rule_id, status, preview_data, error_message, journal_entry_id, created_by, created_at, updated_at, posted_at`

// GetMarker looks up the marker for one idempotency tuple.
func (r *Repository) GetMarker(ctx context.Context, entityType string, entityID int64, trigger string) (Marker, bool, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+markerColumns+`
FROM accounting_markers
WHERE source_entity_type=$1 AND source_entity_id=$2 AND trigger_code=$3`, entityType, entityID, trigger)
	marker, err := scanMarker(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Marker{}, false, nil
		}
		return Marker{}, false, err
	}
	return marker, true, nil
}

// GetMarkerByID returns one marker or ErrMarkerNotFound.
func (r *Repository) GetMarkerByID(ctx context.Context, markerID int64) (Marker, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+markerColumns+`
FROM accounting_markers WHERE id=$1`, markerID)
	marker, err := scanMarker(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Marker{}, ErrMarkerNotFound
		}
		return Marker{}, err
	}
	return marker, nil
}

// ListMarkers returns markers for a company, optionally narrowed to one
// entity, newest first.
func (r *Repository) ListMarkers(ctx context.Context, companyID int64, entityType string, entityID int64) ([]Marker, error) {
	query := `SELECT ` + markerColumns + ` FROM accounting_markers WHERE company_id=$1`
	args := []any{companyID}
	if entityType != "" {
		query += ` AND source_entity_type=$2`
		args = append(args, entityType)
		if entityID != 0 {
			query += ` AND source_entity_id=$3`
			args = append(args, entityID)
		}
	}
	query += ` ORDER BY created_at DESC LIMIT 200`
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var markers []Marker
	for rows.Next() {
		marker, err := scanMarker(rows)
		if err != nil {
			return nil, err
		}
		markers = append(markers, marker)
	}
	return markers, rows.Err()
}

// LoadActiveRules returns the active rules for a trigger, with their
// conditions and lines, ordered by ascending priority.
func (r *Repository) LoadActiveRules(ctx context.Context, trigger string, companyID int64) ([]Rule, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, company_id, name, trigger_code, priority,
stop_on_match, auto_post, require_approval, active
FROM posting_rules
WHERE trigger_code=$1 AND company_id=$2 AND active
ORDER BY priority ASC, id ASC`, trigger, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []Rule
	index := map[int64]int{}
	var ids []int64
	for rows.Next() {
		var rule Rule
		if err := rows.Scan(&rule.ID, &rule.CompanyID, &rule.Name, &rule.TriggerCode, &rule.Priority,
			&rule.StopOnMatch, &rule.AutoPost, &rule.RequireApproval, &rule.Active); err != nil {
			return nil, err
		}
		index[rule.ID] = len(rules)
		ids = append(ids, rule.ID)
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(rules) == 0 {
		return nil, nil
	}

	condRows, err := r.pool.Query(ctx, `SELECT id, rule_id, field_name, operator, value, value_list, condition_group
FROM posting_rule_conditions WHERE rule_id = ANY($1) ORDER BY rule_id, condition_group, id`, ids)
	if err != nil {
		return nil, err
	}
	defer condRows.Close()
	for condRows.Next() {
		var ruleID int64
		var cond Condition
		if err := condRows.Scan(&cond.ID, &ruleID, &cond.Field, &cond.Operator, &cond.Value, &cond.Values, &cond.Group); err != nil {
			return nil, err
		}
		i := index[ruleID]
		rules[i].Conditions = append(rules[i].Conditions, cond)
	}
	if err := condRows.Err(); err != nil {
		return nil, err
	}

	lineRows, err := r.pool.Query(ctx, `SELECT id, rule_id, position, line_type,
account_source, account_id, account_field, fallback_account_id,
amount_source, amount_value, amount_field,
cost_center_source, cost_center_id, project_source, project_id, shipment_source, shipment_id,
description_template
FROM posting_rule_lines WHERE rule_id = ANY($1) ORDER BY rule_id, position`, ids)
	if err != nil {
		return nil, err
	}
	defer lineRows.Close()
	for lineRows.Next() {
		var ruleID int64
		var line RuleLine
		if err := lineRows.Scan(&line.ID, &ruleID, &line.Position, &line.Type,
			&line.AccountSource, &line.AccountID, &line.AccountField, &line.FallbackAccountID,
			&line.AmountSource, &line.AmountValue, &line.AmountField,
			&line.CostCenterSource, &line.CostCenterID, &line.ProjectSource, &line.ProjectID,
			&line.ShipmentSource, &line.ShipmentID, &line.DescriptionTemplate); err != nil {
			return nil, err
		}
		i := index[ruleID]
		rules[i].Lines = append(rules[i].Lines, line)
	}
	return rules, lineRows.Err()
}

// RecordFailure upserts a failed marker after the posting transaction
// rolled back. A marker that already reached posted is left untouched.
func (r *Repository) RecordFailure(ctx context.Context, marker Marker) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO accounting_markers
(source_entity_type, source_entity_id, trigger_code, company_id, rule_id, status, error_message, created_by)
VALUES ($1, $2, $3, $4, $5, 'failed', $6, $7)
ON CONFLICT (source_entity_type, source_entity_id, trigger_code)
DO UPDATE SET status='failed', error_message=EXCLUDED.error_message, updated_at=NOW()
WHERE accounting_markers.status <> 'posted'`,
		marker.EntityType, marker.EntityID, marker.TriggerCode, marker.CompanyID,
		marker.RuleID, marker.ErrorMessage, marker.CreatedBy)
	return err
}

type txRepo struct {
	tx pgx.Tx
}

// AcquirePostingLock takes a transaction-scoped advisory lock keyed on
// the idempotency tuple. It blocks until the competing transaction
// finishes, which is what makes the marker re-check authoritative.
func (r *txRepo) AcquirePostingLock(ctx context.Context, entityType string, entityID int64, trigger string) error {
	_, err := r.tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`,
		lockKey(entityType, entityID, trigger))
	return err
}

func (r *txRepo) GetMarkerForUpdate(ctx context.Context, entityType string, entityID int64, trigger string) (Marker, bool, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+markerColumns+`
FROM accounting_markers
WHERE source_entity_type=$1 AND source_entity_id=$2 AND trigger_code=$3
FOR UPDATE`, entityType, entityID, trigger)
	marker, err := scanMarker(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Marker{}, false, nil
		}
		return Marker{}, false, err
	}
	return marker, true, nil
}

func (r *txRepo) GetMarkerByIDForUpdate(ctx context.Context, markerID int64) (Marker, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+markerColumns+`
FROM accounting_markers WHERE id=$1 FOR UPDATE`, markerID)
	marker, err := scanMarker(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Marker{}, ErrMarkerNotFound
		}
		return Marker{}, err
	}
	return marker, nil
}

func (r *txRepo) UpsertMarker(ctx context.Context, marker Marker) (int64, error) {
	preview, err := marshalPreview(marker.Preview)
	if err != nil {
		return 0, err
	}
	var id int64
	err = r.tx.QueryRow(ctx, `INSERT INTO accounting_markers
(source_entity_type, source_entity_id, trigger_code, company_id, rule_id, status, preview_data, created_by)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (source_entity_type, source_entity_id, trigger_code)
DO UPDATE SET rule_id=EXCLUDED.rule_id, status=EXCLUDED.status,
preview_data=EXCLUDED.preview_data, error_message='', updated_at=NOW()
WHERE accounting_markers.status <> 'posted'
RETURNING id`,
		marker.EntityType, marker.EntityID, marker.TriggerCode, marker.CompanyID,
		marker.RuleID, string(marker.Status), preview, marker.CreatedBy).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Conflict row is already posted; never downgrade it.
			return 0, fmt.Errorf("posting: marker already posted for %s %d", marker.EntityType, marker.EntityID)
		}
		return 0, err
	}
	return id, nil
}

func (r *txRepo) MarkPosted(ctx context.Context, markerID, journalEntryID int64, postedAt time.Time) error {
	tag, err := r.tx.Exec(ctx, `UPDATE accounting_markers
SET status='posted', journal_entry_id=$2, posted_at=$3, error_message='', updated_at=NOW()
WHERE id=$1 AND status <> 'posted'`, markerID, journalEntryID, postedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("posting: marker %d already posted", markerID)
	}
	return nil
}

func (r *txRepo) WriteBack(ctx context.Context, entityType string, entityID int64, accountingStatus string, journalEntryID *int64) error {
	return documents.WriteBackTx(ctx, r.tx, documents.EntityType(entityType), entityID, accountingStatus, journalEntryID)
}

func (r *txRepo) LoadProjection(ctx context.Context, entityType string, entityID, companyID int64) (documents.Projection, error) {
	return documents.LoadProjectionTx(ctx, r.tx, documents.EntityType(entityType), entityID, companyID)
}

func (r *txRepo) Ledger() ledger.TxWriter {
	return ledger.NewTxRepo(r.tx)
}

func scanMarker(row pgx.Row) (Marker, error) {
	var m Marker
	var status string
	var preview []byte
	if err := row.Scan(&m.ID, &m.EntityType, &m.EntityID, &m.TriggerCode, &m.CompanyID,
		&m.RuleID, &status, &preview, &m.ErrorMessage, &m.JournalEntryID,
		&m.CreatedBy, &m.CreatedAt, &m.UpdatedAt, &m.PostedAt); err != nil {
		return Marker{}, err
	}
	m.Status = MarkerStatus(status)
	if len(preview) > 0 {
		var data PreviewData
		if err := json.Unmarshal(preview, &data); err != nil {
			return Marker{}, fmt.Errorf("posting: decode preview data: %w", err)
		}
		m.Preview = &data
	}
	return m, nil
}

func marshalPreview(preview *PreviewData) ([]byte, error) {
	if preview == nil {
		return nil, nil
	}
	return json.Marshal(preview)
}

// lockKey hashes the idempotency tuple into the signed 64-bit space
// pg_advisory_xact_lock expects.
func lockKey(entityType string, entityID int64, trigger string) int64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s:%d:%s", entityType, entityID, trigger)
	return int64(h.Sum64())
}
