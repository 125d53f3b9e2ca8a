// Package memory хранилище в памяти процесса с тем же контрактом, что и
// repository. Все условные изменения выполняются под одной блокировкой.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bussulac/access-gateway/internal/models"
	"github.com/bussulac/access-gateway/internal/storage"
)

type account struct {
	user models.User
	ent  models.Entitlement
}

type Storage struct {
	mu       sync.Mutex
	accounts map[string]*account
	events   []models.SecurityEvent
	failWith error
}

func New() *Storage {
	return &Storage{accounts: make(map[string]*account)}
}

// FailWith заставляет все последующие вызовы возвращать err. nil снимает отказ.
func (s *Storage) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWith = err
}

// Put сохраняет профиль доступа, создавая учётную запись при необходимости.
func (s *Storage) Put(e models.Entitlement) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[e.UserUID]
	if !ok {
		a = &account{user: models.User{UUID: e.UserUID, Username: e.UserUID, Email: e.UserUID + "@example.com"}}
		s.accounts[e.UserUID] = a
	}
	a.user.IsAdmin = e.IsAdmin
	a.ent = copyEntitlement(e)
}

// CheckDatabaseReady всегда готово, кроме режима FailWith.
func (s *Storage) CheckDatabaseReady(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.check(ctx, "memory.CheckDatabaseReady")
}

func (s *Storage) check(ctx context.Context, op string) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}
	if s.failWith != nil {
		return fmt.Errorf("%s: %w", op, s.failWith)
	}
	return nil
}

func (s *Storage) RegisterUser(ctx context.Context, user models.User, freeSessionsLimit int, initialTokens int64) (string, error) {
	const op = "memory.RegisterUser"
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, op); err != nil {
		return "", err
	}
	for _, a := range s.accounts {
		if a.user.Username == user.Username || a.user.Email == user.Email {
			return "", fmt.Errorf("%s: %w", op, storage.ErrUserExists)
		}
	}
	user.UUID = uuid.NewString()
	user.CreatedAt = time.Now().UTC()
	s.accounts[user.UUID] = &account{
		user: user,
		ent: models.Entitlement{
			UserUID:           user.UUID,
			IsAdmin:           user.IsAdmin,
			FreeSessionsLimit: freeSessionsLimit,
			TokenBalance:      initialTokens,
		},
	}
	return user.UUID, nil
}

func (s *Storage) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	const op = "memory.GetUserByUsername"
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, op); err != nil {
		return nil, err
	}
	for _, a := range s.accounts {
		if a.user.Username == username {
			u := a.user
			return &u, nil
		}
	}
	return nil, fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
}

func (s *Storage) GetUser(ctx context.Context, userUID string) (*models.User, error) {
	const op = "memory.GetUser"
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, op); err != nil {
		return nil, err
	}
	a, ok := s.accounts[userUID]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
	}
	u := a.user
	return &u, nil
}

func (s *Storage) GetEntitlement(ctx context.Context, userUID string) (*models.Entitlement, error) {
	const op = "memory.GetEntitlement"
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, op); err != nil {
		return nil, err
	}
	a, ok := s.accounts[userUID]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
	}
	e := copyEntitlement(a.ent)
	return &e, nil
}

func (s *Storage) MarkTrialExpired(ctx context.Context, userUID string) (bool, error) {
	const op = "memory.MarkTrialExpired"
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, op); err != nil {
		return false, err
	}
	a, ok := s.accounts[userUID]
	if !ok || a.ent.SubscriptionStatus == models.SubscriptionExpired {
		return false, nil
	}
	a.ent.SubscriptionStatus = models.SubscriptionExpired
	return true, nil
}

func (s *Storage) IncrementFreeSessions(ctx context.Context, userUID string) (*models.SessionUsage, bool, error) {
	const op = "memory.IncrementFreeSessions"
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, op); err != nil {
		return nil, false, err
	}
	a, ok := s.accounts[userUID]
	if !ok || a.ent.FreeSessionsUsed >= a.ent.FreeSessionsLimit {
		return nil, false, nil
	}
	a.ent.FreeSessionsUsed++
	return &models.SessionUsage{UserUID: userUID, Used: a.ent.FreeSessionsUsed, Limit: a.ent.FreeSessionsLimit}, true, nil
}

func (s *Storage) DeductTokens(ctx context.Context, userUID string, cost int64) (*models.TokenBalance, bool, error) {
	const op = "memory.DeductTokens"
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, op); err != nil {
		return nil, false, err
	}
	a, ok := s.accounts[userUID]
	if !ok || a.ent.TokenBalance < cost {
		return nil, false, nil
	}
	a.ent.TokenBalance -= cost
	return &models.TokenBalance{UserUID: userUID, Balance: a.ent.TokenBalance}, true, nil
}

func (s *Storage) ExpireLapsedTrials(ctx context.Context, now time.Time) ([]models.TrialNotice, error) {
	const op = "memory.ExpireLapsedTrials"
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, op); err != nil {
		return nil, err
	}
	var result []models.TrialNotice
	for _, a := range s.accounts {
		e := &a.ent
		if e.TrialEndDate == nil || !e.TrialEndDate.Before(now) || e.IsAdmin {
			continue
		}
		if e.SubscriptionStatus == models.SubscriptionActive || e.SubscriptionStatus == models.SubscriptionExpired {
			continue
		}
		e.SubscriptionStatus = models.SubscriptionExpired
		result = append(result, notice(a))
	}
	sortNotices(result)
	return result, nil
}

func (s *Storage) FindTrialsEndingBetween(ctx context.Context, from, to time.Time) ([]models.TrialNotice, error) {
	const op = "memory.FindTrialsEndingBetween"
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, op); err != nil {
		return nil, err
	}
	var result []models.TrialNotice
	for _, a := range s.accounts {
		e := a.ent
		if e.SubscriptionStatus != models.SubscriptionTrial || e.IsAdmin || e.TrialEndDate == nil {
			continue
		}
		if e.TrialEndDate.Before(from) || !e.TrialEndDate.Before(to) {
			continue
		}
		result = append(result, notice(a))
	}
	sortNotices(result)
	return result, nil
}

func (s *Storage) SaveSecurityEvent(ctx context.Context, ev models.SecurityEvent) error {
	const op = "memory.SaveSecurityEvent"
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, op); err != nil {
		return err
	}
	s.events = append(s.events, ev)
	return nil
}

// Events копия журнала событий в порядке записи.
func (s *Storage) Events() []models.SecurityEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.SecurityEvent, len(s.events))
	copy(out, s.events)
	return out
}

func notice(a *account) models.TrialNotice {
	return models.TrialNotice{
		UserUID:      a.user.UUID,
		Email:        a.user.Email,
		Username:     a.user.Username,
		TrialEndDate: *a.ent.TrialEndDate,
	}
}

func sortNotices(n []models.TrialNotice) {
	sort.Slice(n, func(i, j int) bool { return n[i].TrialEndDate.Before(n[j].TrialEndDate) })
}

func copyEntitlement(e models.Entitlement) models.Entitlement {
	if e.TrialEndDate != nil {
		t := *e.TrialEndDate
		e.TrialEndDate = &t
	}
	return e
}
