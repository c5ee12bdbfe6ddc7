package authpw

import (
	"context"
	"errors"
	"testing"
	"time"

	"inkwell/api/internal/store"
)

type resetRecord struct {
	userID    string
	expiresAt time.Time
	used      bool
}

// mockUserStore is an in-memory UserStore for tests
type mockUserStore struct {
	users      map[string]store.User
	emailIndex map[string]string // email -> userID
	resets     map[string]resetRecord
}

func newMockUserStore() *mockUserStore {
	return &mockUserStore{
		users:      make(map[string]store.User),
		emailIndex: make(map[string]string),
		resets:     make(map[string]resetRecord),
	}
}

func (m *mockUserStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	if userID, ok := m.emailIndex[email]; ok {
		return m.users[userID], nil
	}
	return store.User{}, errors.New("user not found")
}

func (m *mockUserStore) GetUserByID(_ context.Context, id string) (store.User, error) {
	if user, ok := m.users[id]; ok {
		return user, nil
	}
	return store.User{}, errors.New("user not found")
}

func (m *mockUserStore) CreateUser(_ context.Context, user store.User) error {
	m.users[user.ID] = user
	m.emailIndex[user.Email] = user.ID
	return nil
}

func (m *mockUserStore) UpdateUserVerificationToken(_ context.Context, userID, token string, expiresAt time.Time) error {
	user, ok := m.users[userID]
	if !ok {
		return errors.New("user not found")
	}
	user.VerificationToken = token
	user.VerificationExpiresAt = &expiresAt
	m.users[userID] = user
	return nil
}

func (m *mockUserStore) VerifyUserEmail(_ context.Context, token string) error {
	for id, user := range m.users {
		if user.VerificationToken == token {
			if user.VerificationExpiresAt != nil && user.VerificationExpiresAt.Before(time.Now()) {
				return errors.New("token expired")
			}
			user.IsEmailVerified = true
			user.VerificationToken = ""
			m.users[id] = user
			return nil
		}
	}
	return errors.New("token not found")
}

func (m *mockUserStore) UpdateUserPassword(_ context.Context, userID, passwordHash string) error {
	user, ok := m.users[userID]
	if !ok {
		return errors.New("user not found")
	}
	user.PasswordHash = passwordHash
	m.users[userID] = user
	return nil
}

func (m *mockUserStore) CreatePasswordReset(_ context.Context, userID, token string, expiresAt time.Time) error {
	m.resets[token] = resetRecord{userID: userID, expiresAt: expiresAt}
	return nil
}

func (m *mockUserStore) GetPasswordReset(_ context.Context, token string) (string, error) {
	reset, ok := m.resets[token]
	if !ok || reset.used || reset.expiresAt.Before(time.Now()) {
		return "", errors.New("reset not found")
	}
	return reset.userID, nil
}

func (m *mockUserStore) MarkPasswordResetUsed(_ context.Context, token string) error {
	reset, ok := m.resets[token]
	if !ok {
		return errors.New("reset not found")
	}
	reset.used = true
	m.resets[token] = reset
	return nil
}

func TestSignUpAndVerify(t *testing.T) {
	mock := newMockUserStore()
	svc := NewService(mock)
	ctx := context.Background()

	resp, err := svc.SignUp(ctx, SignUpRequest{
		Email:       "writer@example.com",
		Password:    "longenough",
		DisplayName: "Writer",
	})
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}
	if resp.VerificationToken == "" {
		t.Fatal("expected verification token")
	}

	// Sign-in before verification is allowed but flagged
	signIn, err := svc.SignIn(ctx, SignInRequest{Email: "writer@example.com", Password: "longenough"})
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if !signIn.RequiresVerify {
		t.Fatal("expected RequiresVerify before verification")
	}

	if err := svc.VerifyEmail(ctx, resp.VerificationToken); err != nil {
		t.Fatalf("verify email: %v", err)
	}

	signIn, err = svc.SignIn(ctx, SignInRequest{Email: "writer@example.com", Password: "longenough"})
	if err != nil {
		t.Fatalf("sign in after verify: %v", err)
	}
	if signIn.RequiresVerify {
		t.Fatal("did not expect RequiresVerify after verification")
	}
}

func TestSignUpDuplicateEmail(t *testing.T) {
	mock := newMockUserStore()
	svc := NewService(mock)
	ctx := context.Background()

	if _, err := svc.SignUp(ctx, SignUpRequest{Email: "dup@example.com", Password: "longenough", DisplayName: "A"}); err != nil {
		t.Fatalf("first sign up: %v", err)
	}
	_, err := svc.SignUp(ctx, SignUpRequest{Email: "dup@example.com", Password: "longenough", DisplayName: "B"})
	if !errors.Is(err, ErrEmailExists) {
		t.Fatalf("expected ErrEmailExists, got %v", err)
	}
}

func TestSignInWrongPassword(t *testing.T) {
	mock := newMockUserStore()
	svc := NewService(mock)
	ctx := context.Background()

	resp, err := svc.SignUp(ctx, SignUpRequest{Email: "w@example.com", Password: "longenough", DisplayName: "W"})
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}
	if err := svc.VerifyEmail(ctx, resp.VerificationToken); err != nil {
		t.Fatalf("verify: %v", err)
	}

	if _, err := svc.SignIn(ctx, SignInRequest{Email: "w@example.com", Password: "wrongpass"}); err == nil {
		t.Fatal("expected sign in with wrong password to fail")
	}
}

func TestPasswordResetFlow(t *testing.T) {
	mock := newMockUserStore()
	svc := NewService(mock)
	ctx := context.Background()

	resp, err := svc.SignUp(ctx, SignUpRequest{Email: "r@example.com", Password: "original-pw", DisplayName: "R"})
	if err != nil {
		t.Fatalf("sign up: %v", err)
	}
	if err := svc.VerifyEmail(ctx, resp.VerificationToken); err != nil {
		t.Fatalf("verify: %v", err)
	}

	token, err := svc.RequestPasswordReset(ctx, "r@example.com")
	if err != nil {
		t.Fatalf("request reset: %v", err)
	}
	if token == "" {
		t.Fatal("expected reset token for known email")
	}

	if err := svc.ResetPassword(ctx, ResetPasswordRequest{Token: token, NewPassword: "replacement"}); err != nil {
		t.Fatalf("reset password: %v", err)
	}

	if _, err := svc.SignIn(ctx, SignInRequest{Email: "r@example.com", Password: "replacement"}); err != nil {
		t.Fatalf("sign in with new password: %v", err)
	}
	if _, err := svc.SignIn(ctx, SignInRequest{Email: "r@example.com", Password: "original-pw"}); err == nil {
		t.Fatal("expected old password to be rejected")
	}
}

func TestResetUnknownEmailDoesNotLeak(t *testing.T) {
	svc := NewService(newMockUserStore())
	token, err := svc.RequestPasswordReset(context.Background(), "nobody@example.com")
	if err != nil {
		t.Fatalf("request reset: %v", err)
	}
	if token != "" {
		t.Fatal("expected empty token for unknown email")
	}
}
