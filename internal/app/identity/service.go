package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/liveqa/project/internal/platform/auth"
	"github.com/nats-io/nuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidEmail        = errors.New("a valid email is required")
	ErrInvalidPassword     = errors.New("password must be at least 8 characters")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrRefreshTokenMissing = errors.New("refresh_token is required")
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
)

const AnonymousName = "Anonymous"

type AuthResponse struct {
	AccessToken  string  `json:"access_token"`
	RefreshToken string  `json:"refresh_token"`
	Profile      Profile `json:"profile"`
}

type Service struct {
	Repo       Repository
	AuthToken  auth.Manager
	NewID      func() string
	NewSecret  func() string
	RefreshTTL time.Duration
	Now        func() time.Time

	watchers watchers
}

func NewService(repo Repository, tokenManager auth.Manager) *Service {
	return &Service{
		Repo:       repo,
		AuthToken:  tokenManager,
		NewID:      uuid.NewString,
		NewSecret:  nuid.Next,
		RefreshTTL: 30 * 24 * time.Hour,
		Now:        func() time.Time { return time.Now().UTC() },
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateCredentials(email, password string) error {
	if _, err := mail.ParseAddress(normalizeEmail(email)); err != nil {
		return ErrInvalidEmail
	}
	if len(strings.TrimSpace(password)) < 8 {
		return ErrInvalidPassword
	}
	return nil
}

// defaultDisplayName uses the local part of the email when no name is given.
func defaultDisplayName(displayName, email string) string {
	if name := strings.TrimSpace(displayName); name != "" {
		return name
	}
	local, _, _ := strings.Cut(email, "@")
	return local
}

func (s *Service) Register(ctx context.Context, email, password, displayName string) (AuthResponse, error) {
	if err := validateCredentials(email, password); err != nil {
		return AuthResponse{}, err
	}
	addr := normalizeEmail(email)

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return AuthResponse{}, err
	}

	u := User{
		ID:           s.NewID(),
		Email:        addr,
		DisplayName:  defaultDisplayName(displayName, addr),
		PasswordHash: string(hash),
	}
	if err := s.Repo.CreateUser(ctx, u); err != nil {
		return AuthResponse{}, err
	}
	return s.issueSession(ctx, u, s.NewID(), SignedIn)
}

func (s *Service) Login(ctx context.Context, email, password string) (AuthResponse, error) {
	addr := normalizeEmail(email)
	if addr == "" || strings.TrimSpace(password) == "" {
		return AuthResponse{}, ErrInvalidCredentials
	}

	u, err := s.Repo.FindUserByEmail(ctx, addr)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return AuthResponse{}, ErrInvalidCredentials
		}
		return AuthResponse{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return AuthResponse{}, ErrInvalidCredentials
	}
	return s.issueSession(ctx, u, s.NewID(), SignedIn)
}

// SignInAnonymously creates a password-less user that can like and post
// but has no way back in once its refresh token is lost.
func (s *Service) SignInAnonymously(ctx context.Context) (AuthResponse, error) {
	u := User{ID: s.NewID(), DisplayName: AnonymousName, Anonymous: true}
	if err := s.Repo.CreateUser(ctx, u); err != nil {
		return AuthResponse{}, err
	}
	return s.issueSession(ctx, u, s.NewID(), SignedIn)
}

// Refresh rotates a refresh token. The presented token is revoked whether
// or not issuing the new session succeeds.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (AuthResponse, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return AuthResponse{}, ErrRefreshTokenMissing
	}

	session, err := s.Repo.FindRefreshTokenByHash(ctx, hashRefreshToken(refreshToken))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return AuthResponse{}, ErrInvalidRefreshToken
		}
		return AuthResponse{}, err
	}
	if err := s.Repo.RevokeRefreshToken(ctx, session.TokenID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return AuthResponse{}, ErrInvalidRefreshToken
		}
		return AuthResponse{}, err
	}

	u, err := s.Repo.FindUserByID(ctx, session.UserID)
	if err != nil {
		return AuthResponse{}, err
	}
	return s.issueSession(ctx, u, session.Session(), Restored)
}

func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return ErrRefreshTokenMissing
	}
	session, err := s.Repo.FindRefreshTokenByHash(ctx, hashRefreshToken(refreshToken))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	if err := s.Repo.RevokeRefreshToken(ctx, session.TokenID); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	s.watchers.emit(SessionEvent{Kind: SignedOut, UserID: session.UserID, SessionID: session.Session()})
	return nil
}

func (s *Service) Profile(ctx context.Context, userID string) (Profile, error) {
	u, err := s.Repo.FindUserByID(ctx, userID)
	if err != nil {
		return Profile{}, err
	}
	return u.Profile(), nil
}

// SetAdmin grants or revokes the global admin flag of a registered user.
func (s *Service) SetAdmin(ctx context.Context, email string, admin bool) error {
	addr := normalizeEmail(email)
	if addr == "" {
		return ErrInvalidEmail
	}
	return s.Repo.SetAdmin(ctx, addr, admin)
}

// Watch streams session changes until cancel is called. Slow readers
// miss events rather than blocking sign-ins.
func (s *Service) Watch() (<-chan SessionEvent, func()) {
	return s.watchers.add(16)
}

func (s *Service) issueSession(ctx context.Context, user User, sessionID string, kind SessionKind) (AuthResponse, error) {
	accessToken, err := s.AuthToken.Sign(user.ID, sessionID, user.DisplayName, user.Anonymous)
	if err != nil {
		return AuthResponse{}, err
	}

	refreshToken := s.NewSecret() + "." + s.NewSecret()
	session := RefreshToken{
		TokenID:   s.NewID(),
		SessionID: sessionID,
		UserID:    user.ID,
		TokenHash: hashRefreshToken(refreshToken),
		ExpiresAt: s.Now().Add(s.RefreshTTL),
	}
	if err := s.Repo.CreateRefreshToken(ctx, session); err != nil {
		return AuthResponse{}, err
	}

	s.watchers.emit(SessionEvent{Kind: kind, UserID: user.ID, SessionID: sessionID})
	return AuthResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		Profile:      user.Profile(),
	}, nil
}

func hashRefreshToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func NewTokenManager(secret string) auth.Manager {
	return auth.NewManager(secret, 15*time.Minute)
}
