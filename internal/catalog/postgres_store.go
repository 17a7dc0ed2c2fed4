package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/x402gw/gateway/internal/idgen"
)

// PostgresStore implements Store against the schema in migrations/, using
// the same lib/pq driver and ExecContext/QueryRowContext idiom as the
// teacher's registry.PostgresStore.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

var _ Store = (*PostgresStore)(nil)

func (p *PostgresStore) CreateService(ctx context.Context, svc *ServiceRecord) error {
	now := time.Now()
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO services (service_id, service_id_hash, name, description, price_base_units,
			token_address, token_decimals, kind, content, endpoint, provider_address, provider_name,
			tags, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$15)
	`, svc.ServiceID, strings.ToLower(svc.ServiceIDHash), svc.Name, svc.Description, svc.PriceBaseUnits,
		strings.ToLower(svc.TokenAddress), svc.TokenDecimals, string(svc.Kind), nullable(svc.Content), nullable(svc.Endpoint),
		strings.ToLower(svc.ProviderAddress), nullable(svc.ProviderName), pq.Array(svc.Tags), svc.Active, now)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return ErrServiceExists
		}
		return fmt.Errorf("catalog: create service: %w", err)
	}
	svc.CreatedAt = now
	svc.UpdatedAt = now
	return nil
}

func (p *PostgresStore) scanService(row *sql.Row) (*ServiceRecord, error) {
	var svc ServiceRecord
	var content, endpoint, providerName sql.NullString
	var kind string
	var tags pq.StringArray

	err := row.Scan(&svc.ServiceID, &svc.ServiceIDHash, &svc.Name, &svc.Description, &svc.PriceBaseUnits,
		&svc.TokenAddress, &svc.TokenDecimals, &kind, &content, &endpoint, &svc.ProviderAddress, &providerName,
		&tags, &svc.Active, &svc.CreatedAt, &svc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrServiceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: scan service: %w", err)
	}
	svc.Kind = Kind(kind)
	svc.Content = content.String
	svc.Endpoint = endpoint.String
	svc.ProviderName = providerName.String
	svc.Tags = []string(tags)
	return &svc, nil
}

const selectServiceColumns = `service_id, service_id_hash, name, description, price_base_units,
	token_address, token_decimals, kind, content, endpoint, provider_address, provider_name, tags, active, created_at, updated_at`

func (p *PostgresStore) GetService(ctx context.Context, serviceID string) (*ServiceRecord, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+selectServiceColumns+` FROM services WHERE service_id = $1`, serviceID)
	return p.scanService(row)
}

func (p *PostgresStore) GetServiceByHash(ctx context.Context, serviceIDHash string) (*ServiceRecord, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+selectServiceColumns+` FROM services WHERE service_id_hash = $1`, strings.ToLower(serviceIDHash))
	return p.scanService(row)
}

func (p *PostgresStore) UpdateServicePrice(ctx context.Context, serviceID string, priceBaseUnits string) error {
	result, err := p.db.ExecContext(ctx, `UPDATE services SET price_base_units = $1, updated_at = now() WHERE service_id = $2`, priceBaseUnits, serviceID)
	if err != nil {
		return fmt.Errorf("catalog: update price: %w", err)
	}
	return checkRowsAffected(result)
}

func (p *PostgresStore) SetServiceActive(ctx context.Context, serviceID string, active bool) error {
	result, err := p.db.ExecContext(ctx, `UPDATE services SET active = $1, updated_at = now() WHERE service_id = $2`, active, serviceID)
	if err != nil {
		return fmt.Errorf("catalog: set active: %w", err)
	}
	return checkRowsAffected(result)
}

func checkRowsAffected(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("catalog: rows affected: %w", err)
	}
	if rows == 0 {
		return ErrServiceNotFound
	}
	return nil
}

func (p *PostgresStore) ListServices(ctx context.Context, filter ListFilter) ([]*ServiceRecord, error) {
	query := `SELECT ` + selectServiceColumns + ` FROM services WHERE 1=1`
	var args []interface{}
	argN := 1

	if filter.OnlyActive {
		query += fmt.Sprintf(" AND active = $%d", argN)
		args = append(args, true)
		argN++
	}
	if filter.Tag != "" {
		query += fmt.Sprintf(" AND $%d = ANY(tags)", argN)
		args = append(args, filter.Tag)
		argN++
	}
	if filter.Search != "" {
		query += fmt.Sprintf(" AND (name ILIKE $%d OR description ILIKE $%d)", argN, argN)
		args = append(args, "%"+filter.Search+"%")
		argN++
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argN)
		args = append(args, filter.Limit)
		argN++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argN)
		args = append(args, filter.Offset)
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("catalog: list services: %w", err)
	}
	defer rows.Close()

	var out []*ServiceRecord
	for rows.Next() {
		var svc ServiceRecord
		var content, endpoint, providerName sql.NullString
		var kind string
		var tags pq.StringArray
		if err := rows.Scan(&svc.ServiceID, &svc.ServiceIDHash, &svc.Name, &svc.Description, &svc.PriceBaseUnits,
			&svc.TokenAddress, &svc.TokenDecimals, &kind, &content, &endpoint, &svc.ProviderAddress, &providerName,
			&tags, &svc.Active, &svc.CreatedAt, &svc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("catalog: scan service row: %w", err)
		}
		svc.Kind = Kind(kind)
		svc.Content = content.String
		svc.Endpoint = endpoint.String
		svc.ProviderName = providerName.String
		svc.Tags = []string(tags)
		out = append(out, &svc)
	}
	return out, rows.Err()
}

func (p *PostgresStore) DeleteService(ctx context.Context, serviceID string) error {
	result, err := p.db.ExecContext(ctx, `DELETE FROM services WHERE service_id = $1`, serviceID)
	if err != nil {
		return fmt.Errorf("catalog: delete service: %w", err)
	}
	return checkRowsAffected(result)
}

func (p *PostgresStore) UpsertProvider(ctx context.Context, prov *ProviderRecord) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO providers (address, display_name, webhook_url, total_earned_base_units, total_claimed_base_units, created_at, updated_at)
		VALUES ($1,$2,$3,0,0,now(),now())
		ON CONFLICT (address) DO UPDATE SET display_name = $2, webhook_url = $3, updated_at = now()
	`, strings.ToLower(prov.Address), nullable(prov.DisplayName), nullable(prov.WebhookURL))
	if err != nil {
		return fmt.Errorf("catalog: upsert provider: %w", err)
	}
	return nil
}

func (p *PostgresStore) GetProvider(ctx context.Context, address string) (*ProviderRecord, error) {
	var prov ProviderRecord
	var displayName, webhookURL sql.NullString
	err := p.db.QueryRowContext(ctx, `
		SELECT address, display_name, webhook_url, total_earned_base_units, total_claimed_base_units, created_at, updated_at
		FROM providers WHERE address = $1
	`, strings.ToLower(address)).Scan(&prov.Address, &displayName, &webhookURL, &prov.TotalEarnedBase, &prov.TotalClaimedBase, &prov.CreatedAt, &prov.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProviderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: get provider: %w", err)
	}
	prov.DisplayName = displayName.String
	prov.WebhookURL = webhookURL.String
	return &prov, nil
}

func (p *PostgresStore) ListProviders(ctx context.Context) ([]*ProviderRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT address, display_name, webhook_url, total_earned_base_units, total_claimed_base_units, created_at, updated_at
		FROM providers
	`)
	if err != nil {
		return nil, fmt.Errorf("catalog: list providers: %w", err)
	}
	defer rows.Close()

	var out []*ProviderRecord
	for rows.Next() {
		var prov ProviderRecord
		var displayName, webhookURL sql.NullString
		if err := rows.Scan(&prov.Address, &displayName, &webhookURL, &prov.TotalEarnedBase, &prov.TotalClaimedBase, &prov.CreatedAt, &prov.UpdatedAt); err != nil {
			return nil, fmt.Errorf("catalog: scan provider: %w", err)
		}
		prov.DisplayName = displayName.String
		prov.WebhookURL = webhookURL.String
		out = append(out, &prov)
	}
	return out, rows.Err()
}

func (p *PostgresStore) IncrementProviderEarned(ctx context.Context, address string, amountBaseUnits string) error {
	return p.incrementProviderTotal(ctx, address, amountBaseUnits, "total_earned_base_units")
}

func (p *PostgresStore) IncrementProviderClaimed(ctx context.Context, address string, amountBaseUnits string) error {
	return p.incrementProviderTotal(ctx, address, amountBaseUnits, "total_claimed_base_units")
}

func (p *PostgresStore) incrementProviderTotal(ctx context.Context, address, amountBaseUnits, column string) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO providers (address, `+column+`, created_at, updated_at)
		VALUES ($1, $2::numeric, now(), now())
		ON CONFLICT (address) DO UPDATE SET `+column+` = providers.`+column+` + $2::numeric, updated_at = now()
	`, strings.ToLower(address), amountBaseUnits)
	if err != nil {
		return fmt.Errorf("catalog: increment provider %s: %w", column, err)
	}
	return nil
}

func (p *PostgresStore) AppendAccessLog(ctx context.Context, entry *AccessLogEntry) error {
	if entry.ID == "" {
		entry.ID = idgen.WithPrefix("log_")
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO access_logs (id, service_id, caller_address, amount_base_units, provider_revenue_base_units, tx_hash, legacy, success, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,now())
	`, entry.ID, entry.ServiceID, strings.ToLower(entry.CallerAddress), entry.AmountBaseUnits, entry.ProviderRevenueBaseUnits, strings.ToLower(entry.TxHash), entry.Legacy, entry.Success)
	if err != nil {
		return fmt.Errorf("catalog: append access log: %w", err)
	}
	return nil
}

func (p *PostgresStore) ListAccessLogs(ctx context.Context, serviceID string, limit int) ([]*AccessLogEntry, error) {
	query := `SELECT id, service_id, caller_address, amount_base_units, provider_revenue_base_units, tx_hash, legacy, success, created_at FROM access_logs`
	var args []interface{}
	if serviceID != "" {
		query += ` WHERE service_id = $1`
		args = append(args, serviceID)
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, len(args)+1)
		args = append(args, limit)
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("catalog: list access logs: %w", err)
	}
	defer rows.Close()

	var out []*AccessLogEntry
	for rows.Next() {
		var e AccessLogEntry
		if err := rows.Scan(&e.ID, &e.ServiceID, &e.CallerAddress, &e.AmountBaseUnits, &e.ProviderRevenueBaseUnits, &e.TxHash, &e.Legacy, &e.Success, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("catalog: scan access log: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (p *PostgresStore) GetAccessLogByTxHash(ctx context.Context, txHash string) (*AccessLogEntry, error) {
	var e AccessLogEntry
	err := p.db.QueryRowContext(ctx, `
		SELECT id, service_id, caller_address, amount_base_units, provider_revenue_base_units, tx_hash, legacy, success, created_at
		FROM access_logs WHERE tx_hash = $1
	`, strings.ToLower(txHash)).Scan(&e.ID, &e.ServiceID, &e.CallerAddress, &e.AmountBaseUnits, &e.ProviderRevenueBaseUnits, &e.TxHash, &e.Legacy, &e.Success, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: get access log by tx hash: %w", err)
	}
	return &e, nil
}

func (p *PostgresStore) CreateClaim(ctx context.Context, claim *ClaimRecord) error {
	if claim.ID == "" {
		claim.ID = idgen.WithPrefix("claim_")
	}
	if claim.Status == "" {
		claim.Status = "pending"
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO claims (id, provider_address, amount_base_units, tx_hash, status, created_at)
		VALUES ($1,$2,$3,$4,$5,now())
	`, claim.ID, strings.ToLower(claim.ProviderAddress), claim.AmountBaseUnits, nullable(claim.TxHash), claim.Status)
	if err != nil {
		return fmt.Errorf("catalog: create claim: %w", err)
	}
	return nil
}

func (p *PostgresStore) ListClaims(ctx context.Context, providerAddress string, limit int) ([]*ClaimRecord, error) {
	query := `SELECT id, provider_address, amount_base_units, tx_hash, status, created_at FROM claims`
	var args []interface{}
	if providerAddress != "" {
		query += ` WHERE provider_address = $1`
		args = append(args, strings.ToLower(providerAddress))
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, len(args)+1)
		args = append(args, limit)
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("catalog: list claims: %w", err)
	}
	defer rows.Close()

	var out []*ClaimRecord
	for rows.Next() {
		var c ClaimRecord
		var txHash sql.NullString
		if err := rows.Scan(&c.ID, &c.ProviderAddress, &c.AmountBaseUnits, &txHash, &c.Status, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("catalog: scan claim: %w", err)
		}
		c.TxHash = txHash.String
		out = append(out, &c)
	}
	return out, rows.Err()
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
