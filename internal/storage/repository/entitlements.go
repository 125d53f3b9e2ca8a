package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bussulac/access-gateway/internal/models"
)

// GetEntitlement возвращает профиль доступа пользователя.
func (s *Storage) GetEntitlement(ctx context.Context, userUID string) (*models.Entitlement, error) {
	const op = "storage.GetEntitlement"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT uid, is_admin, subscription_status, trial_end_date,
			      free_sessions_used, free_sessions_limit, token_balance
			  FROM users
			  WHERE uid = $1`
	var (
		e            models.Entitlement
		status       sql.NullString
		trialEndDate sql.NullTime
	)
	err := s.DB.QueryRowContext(ctx, query, userUID).Scan(&e.UserUID, &e.IsAdmin, &status,
		&trialEndDate, &e.FreeSessionsUsed, &e.FreeSessionsLimit, &e.TokenBalance)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, notFound(err))
	}
	if status.Valid {
		e.SubscriptionStatus = models.SubscriptionStatus(status.String)
	}
	if trialEndDate.Valid {
		t := trialEndDate.Time.UTC()
		e.TrialEndDate = &t
	}
	return &e, nil
}

// MarkTrialExpired записывает subscription_status = 'expired', если он ещё
// не такой. Возвращает true, если строка изменилась.
func (s *Storage) MarkTrialExpired(ctx context.Context, userUID string) (bool, error) {
	const op = "storage.MarkTrialExpired"
	select {
	case <-ctx.Done():
		return false, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE users
			  SET subscription_status = 'expired'
			  WHERE uid = $1
			    AND subscription_status IS DISTINCT FROM 'expired'`
	res, err := s.DB.ExecContext(ctx, query, userUID)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return n > 0, nil
}

// IncrementFreeSessions увеличивает free_sessions_used на единицу, только
// если лимит ещё не достигнут. Проверка и изменение выполняются одним
// оператором UPDATE. Если лимит исчерпан, возвращает false без ошибки.
func (s *Storage) IncrementFreeSessions(ctx context.Context, userUID string) (*models.SessionUsage, bool, error) {
	const op = "storage.IncrementFreeSessions"
	select {
	case <-ctx.Done():
		return nil, false, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE users
			  SET free_sessions_used = free_sessions_used + 1
			  WHERE uid = $1
			    AND free_sessions_used < free_sessions_limit
			  RETURNING free_sessions_used, free_sessions_limit`
	usage := models.SessionUsage{UserUID: userUID}
	err := s.DB.QueryRowContext(ctx, query, userUID).Scan(&usage.Used, &usage.Limit)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
	return &usage, true, nil
}

// DeductTokens списывает cost токенов, только если баланс не меньше cost.
// Баланс никогда не становится отрицательным.
func (s *Storage) DeductTokens(ctx context.Context, userUID string, cost int64) (*models.TokenBalance, bool, error) {
	const op = "storage.DeductTokens"
	select {
	case <-ctx.Done():
		return nil, false, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE users
			  SET token_balance = token_balance - $2
			  WHERE uid = $1
			    AND token_balance >= $2
			  RETURNING token_balance`
	balance := models.TokenBalance{UserUID: userUID}
	err := s.DB.QueryRowContext(ctx, query, userUID, cost).Scan(&balance.Balance)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
	return &balance, true, nil
}

// ExpireLapsedTrials переводит в expired все профили, у которых пробный
// период закончился до now. Администраторы и активные подписки не
// затрагиваются. Возвращает изменённые учётные записи.
func (s *Storage) ExpireLapsedTrials(ctx context.Context, now time.Time) ([]models.TrialNotice, error) {
	const op = "storage.ExpireLapsedTrials"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE users
			  SET subscription_status = 'expired'
			  WHERE trial_end_date IS NOT NULL
			    AND trial_end_date < $1
			    AND NOT is_admin
			    AND (subscription_status IS NULL
			         OR subscription_status NOT IN ('active', 'expired'))
			  RETURNING uid, email, username, trial_end_date`
	rows, err := s.DB.QueryContext(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	notices, err := scanNotices(rows)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return notices, nil
}

// FindTrialsEndingBetween пробные периоды, которые закончатся в [from, to).
func (s *Storage) FindTrialsEndingBetween(ctx context.Context, from, to time.Time) ([]models.TrialNotice, error) {
	const op = "storage.FindTrialsEndingBetween"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT uid, email, username, trial_end_date
			  FROM users
			  WHERE subscription_status = 'trial'
			    AND NOT is_admin
			    AND trial_end_date >= $1
			    AND trial_end_date < $2
			  ORDER BY trial_end_date`
	rows, err := s.DB.QueryContext(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	notices, err := scanNotices(rows)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return notices, nil
}

func scanNotices(rows *sql.Rows) ([]models.TrialNotice, error) {
	defer func() {
		_ = rows.Close()
	}()
	var result []models.TrialNotice
	for rows.Next() {
		var n models.TrialNotice
		if err := rows.Scan(&n.UserUID, &n.Email, &n.Username, &n.TrialEndDate); err != nil {
			return nil, err
		}
		n.TrialEndDate = n.TrialEndDate.UTC()
		result = append(result, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// SetSubscription выставляет статус подписки и дату окончания пробного
// периода. Используется при выдаче пробного периода и в тестах.
func (s *Storage) SetSubscription(ctx context.Context, userUID string, status models.SubscriptionStatus, trialEndDate *time.Time) error {
	const op = "storage.SetSubscription"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	var st sql.NullString
	if status != models.SubscriptionNone {
		st = sql.NullString{String: string(status), Valid: true}
	}
	query := `UPDATE users
			  SET subscription_status = $2, trial_end_date = $3
			  WHERE uid = $1`
	res, err := s.DB.ExecContext(ctx, query, userUID, st, trialEndDate)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%s: %w", op, notFound(sql.ErrNoRows))
	}
	return nil
}
