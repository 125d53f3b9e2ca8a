package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bussulac/access-gateway/internal/models"
	"github.com/bussulac/access-gateway/internal/storage"
)

func TestStorage_RegisterAndGetUser(t *testing.T) {
	s := setupTestDatabase(t)
	ctx := context.Background()

	uid, err := s.RegisterUser(ctx, models.User{
		Email:        "ana@example.com",
		Username:     "ana",
		PasswordHash: "hash",
	}, 3, 25)
	require.NoError(t, err)
	require.NotEmpty(t, uid)

	u, err := s.GetUserByUsername(ctx, "ana")
	require.NoError(t, err)
	assert.Equal(t, uid, u.UUID)
	assert.False(t, u.IsAdmin)

	_, err = s.RegisterUser(ctx, models.User{
		Email:        "ana2@example.com",
		Username:     "ana",
		PasswordHash: "hash",
	}, 3, 0)
	assert.ErrorIs(t, err, storage.ErrUserExists)

	_, err = s.GetUser(ctx, uuid.NewString())
	assert.ErrorIs(t, err, storage.ErrUserNotFound)

	_, err = s.GetUser(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, storage.ErrUserNotFound)
}

func TestStorage_RegistrationDefaults(t *testing.T) {
	s := setupTestDatabase(t)
	uid := NewTestDataFactory(s).CreateUser(t, 3, 40)

	e, err := s.GetEntitlement(context.Background(), uid)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionNone, e.SubscriptionStatus)
	assert.Nil(t, e.TrialEndDate)
	assert.Equal(t, 0, e.FreeSessionsUsed)
	assert.Equal(t, 3, e.FreeSessionsLimit)
	assert.Equal(t, int64(40), e.TokenBalance)
	assert.False(t, e.IsAdmin)
}

func TestStorage_IncrementFreeSessionsStopsAtLimit(t *testing.T) {
	s := setupTestDatabase(t)
	ctx := context.Background()
	uid := NewTestDataFactory(s).CreateUser(t, 3, 0)

	for want := 1; want <= 3; want++ {
		usage, ok, err := s.IncrementFreeSessions(ctx, uid)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, want, usage.Used)
		assert.Equal(t, 3, usage.Limit)
	}

	usage, ok, err := s.IncrementFreeSessions(ctx, uid)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, usage)

	e, err := s.GetEntitlement(ctx, uid)
	require.NoError(t, err)
	assert.Equal(t, 3, e.FreeSessionsUsed)
}

func TestStorage_ConcurrentDeductionsNeverOverdraw(t *testing.T) {
	s := setupTestDatabase(t)
	ctx := context.Background()
	const (
		balance  = 100
		cost     = 15
		attempts = 30
	)
	uid := NewTestDataFactory(s).CreateUser(t, 3, balance)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := s.DeductTokens(ctx, uid, cost)
			if err == nil && ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(balance/cost), wins.Load())
	e, err := s.GetEntitlement(ctx, uid)
	require.NoError(t, err)
	assert.Equal(t, int64(balance%cost), e.TokenBalance)
}

func TestStorage_ConcurrentSessionsNeverExceedLimit(t *testing.T) {
	s := setupTestDatabase(t)
	ctx := context.Background()
	uid := NewTestDataFactory(s).CreateUser(t, 3, 0)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := s.IncrementFreeSessions(ctx, uid)
			if err == nil && ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(3), wins.Load())
}

func TestStorage_MarkTrialExpiredOnce(t *testing.T) {
	s := setupTestDatabase(t)
	ctx := context.Background()
	past := time.Now().Add(-time.Hour).UTC()
	uid := NewTestDataFactory(s).CreateUserWithTrial(t, models.SubscriptionTrial, &past)

	changed, err := s.MarkTrialExpired(ctx, uid)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = s.MarkTrialExpired(ctx, uid)
	require.NoError(t, err)
	assert.False(t, changed)

	e, err := s.GetEntitlement(ctx, uid)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionExpired, e.SubscriptionStatus)
}

func TestStorage_ExpireLapsedTrials(t *testing.T) {
	s := setupTestDatabase(t)
	ctx := context.Background()
	f := NewTestDataFactory(s)
	now := time.Now().UTC()
	past := now.Add(-2 * time.Hour)
	future := now.Add(2 * time.Hour)

	lapsed := f.CreateUserWithTrial(t, models.SubscriptionTrial, &past)
	canceled := f.CreateUserWithTrial(t, models.SubscriptionCanceled, &past)
	running := f.CreateUserWithTrial(t, models.SubscriptionTrial, &future)
	paying := f.CreateUserWithTrial(t, models.SubscriptionActive, &past)
	admin := f.CreateUserWithTrial(t, models.SubscriptionTrial, &past)
	f.MakeAdmin(t, admin)

	notices, err := s.ExpireLapsedTrials(ctx, now)
	require.NoError(t, err)

	got := map[string]bool{}
	for _, n := range notices {
		got[n.UserUID] = true
		assert.NotEmpty(t, n.Email)
	}
	assert.Equal(t, map[string]bool{lapsed: true, canceled: true}, got)

	for uid, want := range map[string]models.SubscriptionStatus{
		lapsed:   models.SubscriptionExpired,
		canceled: models.SubscriptionExpired,
		running:  models.SubscriptionTrial,
		paying:   models.SubscriptionActive,
		admin:    models.SubscriptionTrial,
	} {
		e, err := s.GetEntitlement(ctx, uid)
		require.NoError(t, err)
		assert.Equal(t, want, e.SubscriptionStatus)
	}

	notices, err = s.ExpireLapsedTrials(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, notices)
}

func TestStorage_FindTrialsEndingBetween(t *testing.T) {
	s := setupTestDatabase(t)
	f := NewTestDataFactory(s)
	now := time.Now().UTC()
	soon := now.Add(3 * time.Hour)
	later := now.Add(72 * time.Hour)

	want := f.CreateUserWithTrial(t, models.SubscriptionTrial, &soon)
	f.CreateUserWithTrial(t, models.SubscriptionTrial, &later)

	notices, err := s.FindTrialsEndingBetween(context.Background(), now, now.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, notices, 1)
	assert.Equal(t, want, notices[0].UserUID)
}

func TestStorage_SecurityEvents(t *testing.T) {
	s := setupTestDatabase(t)
	ctx := context.Background()
	uid := NewTestDataFactory(s).CreateUser(t, 3, 0)
	at := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.SaveSecurityEvent(ctx, models.SecurityEvent{
		EventType: models.EventAccessCheck,
		EventData: map[string]any{"status": "free"},
		UserUID:   uid,
		CreatedAt: at,
	}))
	require.NoError(t, s.SaveSecurityEvent(ctx, models.SecurityEvent{
		EventType: models.EventFreeSessionUsed,
		EventData: map[string]any{"remaining": 2},
		UserUID:   uid,
		CreatedAt: at.Add(time.Second),
	}))
	require.NoError(t, s.SaveSecurityEvent(ctx, models.SecurityEvent{
		EventType: models.EventRateLimitExceeded,
		CreatedAt: at,
	}))

	events, err := s.ListSecurityEvents(ctx, uid, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, models.EventFreeSessionUsed, events[0].EventType)
	assert.Equal(t, float64(2), events[0].EventData["remaining"])
	assert.Equal(t, "free", events[1].EventData["status"])
}

func TestStorage_CanceledContext(t *testing.T) {
	s := &Storage{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.GetEntitlement(ctx, "u")
	assert.ErrorIs(t, err, context.Canceled)
	_, _, err = s.DeductTokens(ctx, "u", 1)
	assert.ErrorIs(t, err, context.Canceled)
	_, _, err = s.IncrementFreeSessions(ctx, "u")
	assert.ErrorIs(t, err, context.Canceled)
	err = s.SaveSecurityEvent(ctx, models.SecurityEvent{})
	assert.ErrorIs(t, err, context.Canceled)
}
