package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/bussulac/access-gateway/internal/migrations"
	"github.com/bussulac/access-gateway/internal/models"
)

// setupTestDatabase поднимает контейнер PostgreSQL и применяет миграции.
func setupTestDatabase(t *testing.T) *Storage {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		),
	)
	require.NoError(t, err, "failed to start container")
	t.Cleanup(func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	})

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	storage, err := New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = storage.Close() })

	migrationsPath, err := filepath.Abs("../../../migrations")
	require.NoError(t, err)
	require.NoError(t, migrations.Run(storage.DB, migrationsPath))
	require.NoError(t, storage.CheckDatabaseReady(ctx))
	return storage
}

// TestDataFactory создаёт тестовые учётные записи.
type TestDataFactory struct {
	storage *Storage
}

func NewTestDataFactory(storage *Storage) *TestDataFactory {
	return &TestDataFactory{storage: storage}
}

// CreateUser регистрирует пользователя с заданным лимитом и балансом.
func (f *TestDataFactory) CreateUser(t *testing.T, limit int, tokens int64) string {
	t.Helper()
	name := "user_" + uuid.NewString()[:8]
	uid, err := f.storage.RegisterUser(context.Background(), models.User{
		Email:        name + "@example.com",
		Username:     name,
		PasswordHash: "hash",
	}, limit, tokens)
	require.NoError(t, err)
	return uid
}

// CreateUserWithTrial регистрирует пользователя и выставляет статус подписки.
func (f *TestDataFactory) CreateUserWithTrial(t *testing.T, status models.SubscriptionStatus, trialEnd *time.Time) string {
	t.Helper()
	uid := f.CreateUser(t, 3, 0)
	require.NoError(t, f.storage.SetSubscription(context.Background(), uid, status, trialEnd))
	return uid
}

// MakeAdmin выставляет флаг администратора.
func (f *TestDataFactory) MakeAdmin(t *testing.T, uid string) {
	t.Helper()
	_, err := f.storage.DB.Exec(`UPDATE users SET is_admin = TRUE WHERE uid = $1`, uid)
	require.NoError(t, err)
}
