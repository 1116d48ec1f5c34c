package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"math/rand"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/punchamoorthee/usdtdesk/internal/domain"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

//go:embed schema.sql
var schemaSQL string

// PostgresStore is the durable Repository. Amounts cross the driver boundary as
// NUMERIC text so no precision is lost to float64.
type PostgresStore struct {
	Db     *pgxpool.Pool
	logger *zap.Logger
}

func NewPostgresStore(ctx context.Context, connString string, logger *zap.Logger) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &PostgresStore{Db: pool, logger: logger}, nil
}

var _ Repository = (*PostgresStore)(nil)

// Migrate applies the idempotent schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.Db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() {
	s.Db.Close()
}

const upsertUserSQL = `
	INSERT INTO users (id, display_name) VALUES ($1, $2)
	ON CONFLICT (id) DO UPDATE
	SET display_name = COALESCE(NULLIF(EXCLUDED.display_name, ''), users.display_name)`

const selectUserSQL = `
	SELECT id, display_name, is_registered, referred_by, referral_earnings::text, created_at
	FROM users WHERE id = $1`

const selectWithdrawalSQL = `
	SELECT id, user_id, kind, currency, amount::text, destination_address, status, created_at, decided_at
	FROM withdrawal_requests`

func (s *PostgresStore) EnsureUser(ctx context.Context, id int64, displayName string) (*domain.User, error) {
	if _, err := s.Db.Exec(ctx, upsertUserSQL, id, displayName); err != nil {
		return nil, fmt.Errorf("user upsert failed: %w", err)
	}
	return s.GetUser(ctx, id)
}

func (s *PostgresStore) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	tx, err := s.Db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	u, err := loadUser(ctx, tx, id, false)
	if err != nil {
		return nil, err
	}
	return u, tx.Commit(ctx)
}

func loadUser(ctx context.Context, tx pgx.Tx, id int64, forUpdate bool) (*domain.User, error) {
	query := selectUserSQL
	if forUpdate {
		query += " FOR UPDATE"
	}

	var u domain.User
	var earnings string
	err := tx.QueryRow(ctx, query, id).Scan(&u.ID, &u.DisplayName, &u.IsRegistered, &u.ReferredBy, &earnings, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("user query failed: %w", err)
	}
	if u.ReferralEarnings, err = parseNumeric("earnings", earnings); err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, "SELECT currency, balance::text FROM wallet_balances WHERE user_id = $1", id)
	if err != nil {
		return nil, fmt.Errorf("wallet query failed: %w", err)
	}
	defer rows.Close()

	u.Wallet = make(map[domain.Currency]decimal.Decimal)
	for rows.Next() {
		var currency, balance string
		if err := rows.Scan(&currency, &balance); err != nil {
			return nil, fmt.Errorf("wallet scan failed: %w", err)
		}
		amount, err := parseNumeric("balance", balance)
		if err != nil {
			return nil, err
		}
		u.Wallet[domain.Currency(currency)] = amount
	}
	return &u, rows.Err()
}

func (s *PostgresStore) Stats(ctx context.Context) (*domain.Stats, error) {
	var st domain.Stats
	var earnings string
	err := s.Db.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM users),
			(SELECT COUNT(*) FROM users WHERE is_registered),
			(SELECT COALESCE(SUM(referral_earnings), 0)::text FROM users),
			(SELECT COUNT(*) FROM withdrawal_requests WHERE status = 'pending'),
			(SELECT COUNT(*) FROM support_tickets WHERE status = 'open')`,
	).Scan(&st.Users, &st.Registered, &earnings, &st.PendingPayouts, &st.OpenTickets)
	if err != nil {
		return nil, fmt.Errorf("stats query failed: %w", err)
	}
	if st.ReferralEarnings, err = parseNumeric("earnings", earnings); err != nil {
		return nil, err
	}
	return &st, nil
}

// Register runs as one transaction with both user rows locked in id order.
func (s *PostgresStore) Register(ctx context.Context, p RegisterParams) (*RegisterResult, error) {
	tx, err := s.Db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, upsertUserSQL, p.UserID, p.DisplayName); err != nil {
		return nil, fmt.Errorf("user upsert failed: %w", err)
	}

	withReferrer := p.ReferrerID != nil && *p.ReferrerID != p.UserID
	ids := []int64{p.UserID}
	if withReferrer {
		if _, err := tx.Exec(ctx, "INSERT INTO users (id) VALUES ($1) ON CONFLICT (id) DO NOTHING", *p.ReferrerID); err != nil {
			return nil, fmt.Errorf("referrer upsert failed: %w", err)
		}
		ids = append(ids, *p.ReferrerID)
	}

	// Deterministic locking (deadlock prevention)
	if _, err := tx.Exec(ctx, "SELECT id FROM users WHERE id = ANY($1) ORDER BY id FOR UPDATE", ids); err != nil {
		return nil, fmt.Errorf("lock acquisition failed: %w", err)
	}

	var registered bool
	var referredBy *int64
	if err := tx.QueryRow(ctx, "SELECT is_registered, referred_by FROM users WHERE id = $1", p.UserID).Scan(&registered, &referredBy); err != nil {
		return nil, fmt.Errorf("registration check failed: %w", err)
	}

	res := &RegisterResult{}
	if registered {
		return res, tx.Commit(ctx)
	}
	res.NewlyRegistered = true

	if withReferrer && referredBy == nil {
		var earnings string
		err := tx.QueryRow(ctx,
			"UPDATE users SET referral_earnings = referral_earnings + $1::numeric WHERE id = $2 RETURNING referral_earnings::text",
			p.Bonus.String(), *p.ReferrerID,
		).Scan(&earnings)
		if err != nil {
			return nil, fmt.Errorf("referral credit failed: %w", err)
		}
		if _, err := tx.Exec(ctx, "UPDATE users SET referred_by = $1 WHERE id = $2", *p.ReferrerID, p.UserID); err != nil {
			return nil, fmt.Errorf("referral link failed: %w", err)
		}
		res.Credited = true
		if res.ReferrerEarnings, err = parseNumeric("earnings", earnings); err != nil {
			return nil, err
		}
	}

	if _, err := tx.Exec(ctx, "UPDATE users SET is_registered = TRUE WHERE id = $1", p.UserID); err != nil {
		return nil, fmt.Errorf("registration update failed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("tx commit failed: %w", err)
	}
	return res, nil
}

func (s *PostgresStore) CreditWallet(ctx context.Context, userID int64, currency domain.Currency, amount decimal.Decimal) (*domain.User, error) {
	if !amount.IsPositive() {
		return nil, domain.ErrInvalidAmount
	}
	tx, err := s.Db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := loadUser(ctx, tx, userID, true); err != nil {
		return nil, err
	}
	if err := addBalance(ctx, tx, userID, currency, amount); err != nil {
		return nil, err
	}
	u, err := loadUser(ctx, tx, userID, false)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("tx commit failed: %w", err)
	}
	return u, nil
}

func addBalance(ctx context.Context, tx pgx.Tx, userID int64, currency domain.Currency, amount decimal.Decimal) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO wallet_balances (user_id, currency, balance) VALUES ($1, $2, $3::numeric)
		ON CONFLICT (user_id, currency) DO UPDATE SET balance = wallet_balances.balance + EXCLUDED.balance`,
		userID, string(currency), amount.String(),
	)
	if err != nil {
		return fmt.Errorf("balance update failed: %w", err)
	}
	return nil
}

func insertWithdrawal(ctx context.Context, tx pgx.Tx, userID int64, kind domain.WithdrawalKind, currency domain.Currency, amount decimal.Decimal, address string) (*domain.WithdrawalRequest, error) {
	w := &domain.WithdrawalRequest{
		UserID:             userID,
		Kind:               kind,
		Currency:           currency,
		Amount:             amount,
		DestinationAddress: address,
		Status:             domain.WithdrawalPending,
	}
	err := tx.QueryRow(ctx, `
		INSERT INTO withdrawal_requests (user_id, kind, currency, amount, destination_address, status)
		VALUES ($1, $2, $3, $4::numeric, $5, 'pending') RETURNING id, created_at`,
		userID, string(kind), string(currency), amount.String(), address,
	).Scan(&w.ID, &w.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("withdrawal insert failed: %w", err)
	}
	return w, nil
}

func (s *PostgresStore) FileReferralPayout(ctx context.Context, userID int64, minimum decimal.Decimal, address string) (*domain.WithdrawalRequest, error) {
	tx, err := s.Db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	u, err := loadUser(ctx, tx, userID, true)
	if err != nil {
		return nil, err
	}
	if !u.ReferralEarnings.IsPositive() || u.ReferralEarnings.LessThan(minimum) {
		return nil, domain.ErrBelowMinimum
	}

	w, err := insertWithdrawal(ctx, tx, userID, domain.ReferralPayout, domain.USDT, u.ReferralEarnings, address)
	if err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, "UPDATE users SET referral_earnings = 0 WHERE id = $1", userID); err != nil {
		return nil, fmt.Errorf("earnings reset failed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("tx commit failed: %w", err)
	}
	return w, nil
}

func (s *PostgresStore) FileWalletPayout(ctx context.Context, userID int64, currency domain.Currency, amount decimal.Decimal, address string) (*domain.WithdrawalRequest, error) {
	if !amount.IsPositive() {
		return nil, domain.ErrInvalidAmount
	}
	tx, err := s.Db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := loadUser(ctx, tx, userID, true); err != nil {
		return nil, err
	}

	var balance string
	err = tx.QueryRow(ctx,
		"SELECT balance::text FROM wallet_balances WHERE user_id = $1 AND currency = $2 FOR UPDATE",
		userID, string(currency),
	).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrInsufficientFunds
		}
		return nil, fmt.Errorf("balance query failed: %w", err)
	}
	current, err := parseNumeric("balance", balance)
	if err != nil {
		return nil, err
	}
	if current.LessThan(amount) {
		return nil, domain.ErrInsufficientFunds
	}

	if err := addBalance(ctx, tx, userID, currency, amount.Neg()); err != nil {
		return nil, err
	}
	w, err := insertWithdrawal(ctx, tx, userID, domain.WalletPayout, currency, amount, address)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("tx commit failed: %w", err)
	}
	return w, nil
}

func refund(ctx context.Context, tx pgx.Tx, w *domain.WithdrawalRequest, restoreReferral bool) error {
	switch w.Kind {
	case domain.WalletPayout:
		return addBalance(ctx, tx, w.UserID, w.Currency, w.Amount)
	case domain.ReferralPayout:
		if !restoreReferral {
			return nil
		}
		_, err := tx.Exec(ctx,
			"UPDATE users SET referral_earnings = referral_earnings + $1::numeric WHERE id = $2",
			w.Amount.String(), w.UserID,
		)
		if err != nil {
			return fmt.Errorf("earnings restore failed: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) RevokeWithdrawal(ctx context.Context, id int64) error {
	tx, err := s.Db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	w, err := scanWithdrawal(tx.QueryRow(ctx, selectWithdrawalSQL+" WHERE id = $1 AND status = 'pending' FOR UPDATE", id))
	if err != nil {
		return err
	}
	if err := refund(ctx, tx, w, true); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, "DELETE FROM withdrawal_requests WHERE id = $1", id); err != nil {
		return fmt.Errorf("withdrawal delete failed: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) ApproveWithdrawal(ctx context.Context, id int64) (*domain.WithdrawalRequest, error) {
	return s.decide(ctx, id, domain.WithdrawalApproved, false)
}

func (s *PostgresStore) RejectWithdrawal(ctx context.Context, id int64, restoreReferral bool) (*domain.WithdrawalRequest, error) {
	return s.decide(ctx, id, domain.WithdrawalRejected, restoreReferral)
}

// decide moves a request out of pending. The UPDATE only matches a pending row, so a
// second decision on the same id sees zero rows and reports ErrNotPending.
func (s *PostgresStore) decide(ctx context.Context, id int64, status domain.WithdrawalStatus, restoreReferral bool) (*domain.WithdrawalRequest, error) {
	tx, err := s.Db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	w, err := scanWithdrawal(tx.QueryRow(ctx, `
		UPDATE withdrawal_requests
		SET status = $2, decided_at = NOW()
		WHERE id = $1 AND status = 'pending'
		RETURNING id, user_id, kind, currency, amount::text, destination_address, status, created_at, decided_at`,
		id, string(status),
	))
	if err != nil {
		return nil, err
	}

	if status == domain.WithdrawalRejected {
		if err := refund(ctx, tx, w, restoreReferral); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("tx commit failed: %w", err)
	}

	s.logger.Info("withdrawal decided",
		zap.Int64("withdrawal_id", id),
		zap.String("status", string(status)))
	return w, nil
}

func scanWithdrawal(row pgx.Row) (*domain.WithdrawalRequest, error) {
	var w domain.WithdrawalRequest
	var kind, currency, amount, status string
	err := row.Scan(&w.ID, &w.UserID, &kind, &currency, &amount, &w.DestinationAddress, &status, &w.CreatedAt, &w.DecidedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotPending
		}
		return nil, fmt.Errorf("withdrawal scan failed: %w", err)
	}
	w.Kind = domain.WithdrawalKind(kind)
	w.Currency = domain.Currency(currency)
	w.Status = domain.WithdrawalStatus(status)
	if w.Amount, err = parseNumeric("amount", amount); err != nil {
		return nil, err
	}
	return &w, nil
}

func (s *PostgresStore) GetWithdrawal(ctx context.Context, id int64) (*domain.WithdrawalRequest, error) {
	return scanWithdrawal(s.Db.QueryRow(ctx, selectWithdrawalSQL+" WHERE id = $1", id))
}

func (s *PostgresStore) NextPendingWithdrawal(ctx context.Context, afterID int64) (*domain.WithdrawalRequest, error) {
	query := selectWithdrawalSQL + " WHERE status = 'pending' AND id > $1 ORDER BY id LIMIT 1"
	w, err := scanWithdrawal(s.Db.QueryRow(ctx, query, afterID))
	if errors.Is(err, domain.ErrNotPending) && afterID > 0 {
		w, err = scanWithdrawal(s.Db.QueryRow(ctx, query, 0))
	}
	if errors.Is(err, domain.ErrNotPending) {
		return nil, nil
	}
	return w, err
}

func (s *PostgresStore) ListWithdrawals(ctx context.Context, f WithdrawalFilter) ([]*domain.WithdrawalRequest, error) {
	rows, err := s.Db.Query(ctx, selectWithdrawalSQL+`
		WHERE ($1::bigint = 0 OR user_id = $1) AND ($2::text = '' OR status = $2)
		ORDER BY id`,
		f.UserID, string(f.Status),
	)
	if err != nil {
		return nil, fmt.Errorf("withdrawal list failed: %w", err)
	}
	defer rows.Close()

	var out []*domain.WithdrawalRequest
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			s.logger.Warn("skipping unreadable withdrawal row", zap.Error(err))
			continue
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CreateTicket(ctx context.Context, userID int64, message string) (*domain.SupportTicket, error) {
	for i := 0; i < ticketIDAttempts; i++ {
		t := &domain.SupportTicket{
			ID:      ticketIDMin + rand.Int63n(ticketIDMax-ticketIDMin+1),
			UserID:  userID,
			Message: message,
			Status:  domain.TicketOpen,
		}
		err := s.Db.QueryRow(ctx, `
			INSERT INTO support_tickets (id, user_id, message, status) VALUES ($1, $2, $3, 'open')
			ON CONFLICT (id) DO NOTHING RETURNING created_at`,
			t.ID, userID, message,
		).Scan(&t.CreatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("ticket insert failed: %w", err)
		}
		return t, nil
	}
	return nil, fmt.Errorf("no free ticket id after %d attempts", ticketIDAttempts)
}

const selectTicketSQL = "SELECT id, user_id, message, status, created_at FROM support_tickets"

func scanTicket(row pgx.Row) (*domain.SupportTicket, error) {
	var t domain.SupportTicket
	var status string
	if err := row.Scan(&t.ID, &t.UserID, &t.Message, &status, &t.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTicketNotFound
		}
		return nil, fmt.Errorf("ticket scan failed: %w", err)
	}
	t.Status = domain.TicketStatus(status)
	return &t, nil
}

func (s *PostgresStore) GetTicket(ctx context.Context, id int64) (*domain.SupportTicket, error) {
	return scanTicket(s.Db.QueryRow(ctx, selectTicketSQL+" WHERE id = $1", id))
}

func (s *PostgresStore) NextOpenTicket(ctx context.Context, afterID int64) (*domain.SupportTicket, error) {
	t, err := scanTicket(s.Db.QueryRow(ctx, selectTicketSQL+`
		WHERE status = 'open'
		  AND (created_at, id) > (SELECT created_at, id FROM support_tickets WHERE id = $1)
		ORDER BY created_at, id LIMIT 1`, afterID))
	if errors.Is(err, domain.ErrTicketNotFound) {
		t, err = scanTicket(s.Db.QueryRow(ctx, selectTicketSQL+" WHERE status = 'open' ORDER BY created_at, id LIMIT 1"))
	}
	if errors.Is(err, domain.ErrTicketNotFound) {
		return nil, nil
	}
	return t, err
}

func (s *PostgresStore) ResolveTicket(ctx context.Context, id int64) (*domain.SupportTicket, error) {
	return scanTicket(s.Db.QueryRow(ctx, `
		UPDATE support_tickets SET status = 'resolved'
		WHERE id = $1 AND status = 'open'
		RETURNING id, user_id, message, status, created_at`, id))
}

func (s *PostgresStore) ListPayoutMethods(ctx context.Context) ([]domain.PayoutMethod, error) {
	rows, err := s.Db.Query(ctx, "SELECT name, details FROM payout_methods ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("payout method query failed: %w", err)
	}
	defer rows.Close()

	var out []domain.PayoutMethod
	for rows.Next() {
		var m domain.PayoutMethod
		if err := rows.Scan(&m.Name, &m.Details); err != nil {
			return nil, fmt.Errorf("payout method scan failed: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SavePayoutMethod(ctx context.Context, m domain.PayoutMethod) error {
	_, err := s.Db.Exec(ctx, `
		INSERT INTO payout_methods (name, details) VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET details = EXCLUDED.details`,
		m.Name, m.Details,
	)
	if err != nil {
		return fmt.Errorf("payout method upsert failed: %w", err)
	}
	return nil
}

// parseNumeric reads a NUMERIC column selected as ::text.
func parseNumeric(column, raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("bad %s value %q: %w", column, raw, err)
	}
	return d, nil
}
