package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/liveqa/project/internal/platform/auth"
)

type fakeRepo struct {
	users         map[string]User
	refreshByHash map[string]RefreshToken

	createErr error
	findErr   error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		users:         map[string]User{},
		refreshByHash: map[string]RefreshToken{},
	}
}

func (f *fakeRepo) EnsureSchema(ctx context.Context) error { return nil }

func (f *fakeRepo) CreateUser(ctx context.Context, user User) error {
	if f.createErr != nil {
		return f.createErr
	}
	for _, u := range f.users {
		if user.Email != "" && u.Email == user.Email {
			return ErrDuplicateEmail
		}
	}
	f.users[user.ID] = user
	return nil
}

func (f *fakeRepo) FindUserByEmail(ctx context.Context, email string) (User, error) {
	if f.findErr != nil {
		return User{}, f.findErr
	}
	for _, u := range f.users {
		if u.Email == email {
			return u, nil
		}
	}
	return User{}, ErrNotFound
}

func (f *fakeRepo) FindUserByID(ctx context.Context, userID string) (User, error) {
	u, ok := f.users[userID]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (f *fakeRepo) SetAdmin(ctx context.Context, email string, admin bool) error {
	for id, u := range f.users {
		if u.Email == email {
			u.IsAdmin = admin
			f.users[id] = u
			return nil
		}
	}
	return ErrNotFound
}

func (f *fakeRepo) CreateRefreshToken(ctx context.Context, token RefreshToken) error {
	f.refreshByHash[token.TokenHash] = token
	return nil
}

func (f *fakeRepo) FindRefreshTokenByHash(ctx context.Context, tokenHash string) (RefreshToken, error) {
	rt, ok := f.refreshByHash[tokenHash]
	if !ok {
		return RefreshToken{}, ErrNotFound
	}
	if rt.RevokedAt != nil || rt.ExpiresAt.Before(time.Now().UTC()) {
		return RefreshToken{}, ErrNotFound
	}
	return rt, nil
}

func (f *fakeRepo) RevokeRefreshToken(ctx context.Context, tokenID string) error {
	now := time.Now().UTC()
	for hash, rt := range f.refreshByHash {
		if rt.TokenID == tokenID && rt.RevokedAt == nil {
			rt.RevokedAt = &now
			f.refreshByHash[hash] = rt
			return nil
		}
	}
	return ErrNotFound
}

func testTokenManager() auth.Manager {
	m := auth.NewManager("secret", time.Hour)
	m.Now = func() time.Time { return time.Now().UTC() }
	return m
}

func newTestService(repo Repository) *Service {
	svc := NewService(repo, testTokenManager())
	next := 0
	svc.NewID = func() string {
		next++
		return "id-" + string(rune('a'+next))
	}
	return svc
}

func TestRegisterLoginRefreshLogout(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo)

	reg, err := svc.Register(context.Background(), " Alice@Example.com ", "password123", "")
	if err != nil {
		t.Fatalf("Register error: %v", err)
	}
	if reg.AccessToken == "" || reg.RefreshToken == "" || reg.Profile.UserID == "" {
		t.Fatalf("unexpected register response: %+v", reg)
	}
	if reg.Profile.DisplayName != "alice" {
		t.Fatalf("display name = %q, want alice", reg.Profile.DisplayName)
	}

	login, err := svc.Login(context.Background(), "alice@example.com", "password123")
	if err != nil {
		t.Fatalf("Login error: %v", err)
	}
	claims, err := svc.AuthToken.Parse(login.AccessToken)
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if claims.Subject != reg.Profile.UserID || claims.Anonymous {
		t.Fatalf("unexpected claims: %+v", claims)
	}

	refreshed, err := svc.Refresh(context.Background(), login.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh error: %v", err)
	}
	if refreshed.RefreshToken == "" || refreshed.RefreshToken == login.RefreshToken {
		t.Fatalf("refresh token was not rotated: %+v", refreshed)
	}
	if _, err := svc.Refresh(context.Background(), login.RefreshToken); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("reused refresh token: expected ErrInvalidRefreshToken, got %v", err)
	}

	if err := svc.Logout(context.Background(), refreshed.RefreshToken); err != nil {
		t.Fatalf("Logout error: %v", err)
	}
	if _, err := svc.Refresh(context.Background(), refreshed.RefreshToken); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("expected ErrInvalidRefreshToken after logout, got %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	svc := newTestService(newFakeRepo())
	if _, err := svc.Register(context.Background(), "not-an-email", "password123", "x"); !errors.Is(err, ErrInvalidEmail) {
		t.Fatalf("expected ErrInvalidEmail, got %v", err)
	}
	if _, err := svc.Register(context.Background(), "a@b.co", "short", "x"); !errors.Is(err, ErrInvalidPassword) {
		t.Fatalf("expected ErrInvalidPassword, got %v", err)
	}
	if _, err := svc.Register(context.Background(), "a@b.co", "password123", "x"); err != nil {
		t.Fatalf("Register error: %v", err)
	}
	if _, err := svc.Register(context.Background(), "A@b.co", "password123", "y"); !errors.Is(err, ErrDuplicateEmail) {
		t.Fatalf("expected ErrDuplicateEmail, got %v", err)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	svc := newTestService(newFakeRepo())
	if _, err := svc.Register(context.Background(), "a@b.co", "password123", "A"); err != nil {
		t.Fatalf("Register error: %v", err)
	}
	if _, err := svc.Login(context.Background(), "a@b.co", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := svc.Login(context.Background(), "nobody@b.co", "password123"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestSignInAnonymously(t *testing.T) {
	svc := newTestService(newFakeRepo())
	resp, err := svc.SignInAnonymously(context.Background())
	if err != nil {
		t.Fatalf("SignInAnonymously error: %v", err)
	}
	if !resp.Profile.Anonymous || resp.Profile.DisplayName != AnonymousName {
		t.Fatalf("unexpected profile: %+v", resp.Profile)
	}
	claims, err := svc.AuthToken.Parse(resp.AccessToken)
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if !claims.Anonymous || claims.Name != AnonymousName {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestSetAdminShowsInProfile(t *testing.T) {
	svc := newTestService(newFakeRepo())
	reg, err := svc.Register(context.Background(), "host@b.co", "password123", "Host")
	if err != nil {
		t.Fatalf("Register error: %v", err)
	}
	if err := svc.SetAdmin(context.Background(), "HOST@b.co", true); err != nil {
		t.Fatalf("SetAdmin error: %v", err)
	}
	p, err := svc.Profile(context.Background(), reg.Profile.UserID)
	if err != nil {
		t.Fatalf("Profile error: %v", err)
	}
	if !p.IsAdmin {
		t.Fatalf("expected admin profile: %+v", p)
	}
	if err := svc.SetAdmin(context.Background(), "ghost@b.co", true); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestWatchReportsSessionChanges(t *testing.T) {
	svc := newTestService(newFakeRepo())
	events, cancel := svc.Watch()

	login, err := svc.SignInAnonymously(context.Background())
	if err != nil {
		t.Fatalf("SignInAnonymously error: %v", err)
	}
	refreshed, err := svc.Refresh(context.Background(), login.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh error: %v", err)
	}
	if err := svc.Logout(context.Background(), refreshed.RefreshToken); err != nil {
		t.Fatalf("Logout error: %v", err)
	}

	want := []SessionKind{SignedIn, Restored, SignedOut}
	for _, kind := range want {
		ev := <-events
		if ev.Kind != kind || ev.UserID != login.Profile.UserID {
			t.Fatalf("event = %+v, want %s for %s", ev, kind, login.Profile.UserID)
		}
	}

	cancel()
	cancel()
	if _, ok := <-events; ok {
		t.Fatal("expected closed channel after cancel")
	}
	if _, err := svc.SignInAnonymously(context.Background()); err != nil {
		t.Fatalf("sign-in after cancel: %v", err)
	}
}

func TestSessionIDSurvivesRotation(t *testing.T) {
	svc := newTestService(newFakeRepo())
	events, cancel := svc.Watch()
	defer cancel()

	phone, err := svc.Register(context.Background(), "bo@b.co", "password123", "Bo")
	if err != nil {
		t.Fatalf("Register error: %v", err)
	}
	laptop, err := svc.Login(context.Background(), "bo@b.co", "password123")
	if err != nil {
		t.Fatalf("Login error: %v", err)
	}
	rotated, err := svc.Refresh(context.Background(), phone.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh error: %v", err)
	}

	sessionOf := func(token string) string {
		t.Helper()
		claims, err := svc.AuthToken.Parse(token)
		if err != nil {
			t.Fatalf("Parse error: %v", err)
		}
		return claims.SessionID()
	}
	if sessionOf(phone.AccessToken) == "" || sessionOf(phone.AccessToken) != sessionOf(rotated.AccessToken) {
		t.Fatalf("rotation changed the session: %q -> %q", sessionOf(phone.AccessToken), sessionOf(rotated.AccessToken))
	}
	if sessionOf(laptop.AccessToken) == sessionOf(phone.AccessToken) {
		t.Fatal("separate sign-ins share a session")
	}

	if err := svc.Logout(context.Background(), rotated.RefreshToken); err != nil {
		t.Fatalf("Logout error: %v", err)
	}
	var last SessionEvent
	for i := 0; i < 4; i++ {
		last = <-events
	}
	if last.Kind != SignedOut || last.SessionID != sessionOf(phone.AccessToken) {
		t.Fatalf("sign-out event = %+v, want session %s", last, sessionOf(phone.AccessToken))
	}
}
