package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/opencourse/enrollment-api/internal/models"
	appErrors "github.com/opencourse/enrollment-api/pkg/errors"
)

type userRepoStub struct {
	users      map[string]*models.User
	lastLogins int
}

func (s *userRepoStub) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	for _, u := range s.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *userRepoStub) FindByID(ctx context.Context, id string) (*models.User, error) {
	u, ok := s.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return u, nil
}

func (s *userRepoStub) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	s.lastLogins++
	return nil
}

func newAuthFixture(t *testing.T) (*AuthService, *userRepoStub) {
	hash, err := bcrypt.GenerateFromPassword([]byte("correct horse"), bcrypt.MinCost)
	require.NoError(t, err)
	repo := &userRepoStub{users: map[string]*models.User{
		"user-1": {ID: "user-1", Email: "admin@example.org", Role: "admin", PasswordHash: string(hash), Active: true},
	}}
	svc := NewAuthService(repo, nil, nil, AuthConfig{Secret: "test-secret", Expiration: time.Hour, Issuer: "enrollment-api"})
	return svc, repo
}

func TestAuthServiceLoginIssuesValidToken(t *testing.T) {
	svc, repo := newAuthFixture(t)

	res, err := svc.Login(context.Background(), models.LoginRequest{Email: "admin@example.org", Password: "correct horse"})
	require.NoError(t, err)
	require.NotEmpty(t, res.AccessToken)
	assert.Equal(t, 1, repo.lastLogins)

	claims, err := svc.ValidateToken(res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "admin", claims.Role)
}

func TestAuthServiceLoginRejectsWrongPassword(t *testing.T) {
	svc, _ := newAuthFixture(t)

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "admin@example.org", Password: "wrong"})
	require.True(t, appErrors.Is(err, appErrors.ErrInvalidCredentials))
}

func TestAuthServiceLoginRejectsUnknownEmail(t *testing.T) {
	svc, _ := newAuthFixture(t)

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "ghost@example.org", Password: "correct horse"})
	require.True(t, appErrors.Is(err, appErrors.ErrInvalidCredentials))
}

func TestAuthServiceLoginRejectsInactiveAccount(t *testing.T) {
	svc, repo := newAuthFixture(t)
	repo.users["user-1"].Active = false

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "admin@example.org", Password: "correct horse"})
	require.True(t, appErrors.Is(err, appErrors.ErrInactiveAccount))
}

func TestAuthServiceValidateTokenRejectsGarbage(t *testing.T) {
	svc, _ := newAuthFixture(t)

	_, err := svc.ValidateToken("not-a-token")
	require.True(t, appErrors.Is(err, appErrors.ErrUnauthorized))
}
