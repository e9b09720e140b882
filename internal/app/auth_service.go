package app

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"quizzana/internal/domain"
)

// RegisterInput creates an admin account.
type RegisterInput struct {
	Name     string `json:"name" validate:"notblank,max=100"`
	Email    string `json:"email" validate:"required,email,max=200"`
	Password string `json:"password" validate:"min=8,max=72"`
}

// LoginInput carries admin credentials.
type LoginInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// Session is an issued admin token.
type Session struct {
	Token     string          `json:"token"`
	ExpiresAt time.Time       `json:"expiresAt"`
	Identity  domain.Identity `json:"identity"`
}

// AuthService registers admins and manages their session tokens.
type AuthService struct {
	admins   AdminStore
	hasher   PasswordHasher
	tokens   TokenIssuer
	denylist TokenDenylist
	validate *inputValidator
	log      logrus.FieldLogger
	now      func() time.Time
}

func NewAuthService(admins AdminStore, hasher PasswordHasher, tokens TokenIssuer, denylist TokenDenylist, log logrus.FieldLogger) *AuthService {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &AuthService{
		admins:   admins,
		hasher:   hasher,
		tokens:   tokens,
		denylist: denylist,
		validate: newInputValidator(),
		log:      log,
		now:      time.Now,
	}
}

func (s *AuthService) Register(ctx context.Context, in RegisterInput) (domain.Admin, error) {
	in.Email = normalizeEmail(in.Email)
	if err := s.validate.Struct(in); err != nil {
		return domain.Admin{}, err
	}
	hash, err := s.hasher.HashPassword(in.Password)
	if err != nil {
		return domain.Admin{}, err
	}
	admin := domain.Admin{
		ID:           uuid.NewString(),
		Name:         strings.TrimSpace(in.Name),
		Email:        in.Email,
		PasswordHash: hash,
		CreatedAt:    s.now(),
	}
	if err := s.admins.CreateAdmin(ctx, admin); err != nil {
		return domain.Admin{}, err
	}
	s.log.WithField("admin_id", admin.ID).Info("admin registered")
	return admin, nil
}

// Login checks credentials and issues a token. Unknown emails and wrong passwords
// fail the same way.
func (s *AuthService) Login(ctx context.Context, in LoginInput) (Session, error) {
	in.Email = normalizeEmail(in.Email)
	if err := s.validate.Struct(in); err != nil {
		return Session{}, err
	}
	admin, err := s.admins.GetAdminByEmail(ctx, in.Email)
	if errors.Is(err, domain.ErrNotFound) {
		return Session{}, domain.ErrInvalidCredentials
	}
	if err != nil {
		return Session{}, err
	}
	if err := s.hasher.ComparePassword(admin.PasswordHash, in.Password); err != nil {
		return Session{}, domain.ErrInvalidCredentials
	}
	token, ident, err := s.tokens.Issue(admin)
	if err != nil {
		return Session{}, err
	}
	return Session{Token: token, ExpiresAt: ident.ExpiresAt, Identity: ident}, nil
}

// Authenticate resolves a bearer token into an identity.
func (s *AuthService) Authenticate(ctx context.Context, token string) (domain.Identity, error) {
	ident, err := s.tokens.Parse(token)
	if err != nil {
		return domain.Identity{}, err
	}
	revoked, err := s.denylist.Revoked(ctx, ident.TokenID)
	if err != nil {
		return domain.Identity{}, err
	}
	if revoked {
		return domain.Identity{}, domain.ErrUnauthenticated
	}
	return ident, nil
}

// Logout revokes the caller's token until it expires.
func (s *AuthService) Logout(ctx context.Context, ident domain.Identity) error {
	if !ident.Authenticated() || ident.TokenID == "" {
		return domain.ErrUnauthenticated
	}
	return s.denylist.Revoke(ctx, ident.TokenID, ident.ExpiresAt)
}

// Me returns the caller's account.
func (s *AuthService) Me(ctx context.Context, ident domain.Identity) (domain.Admin, error) {
	if !ident.Authenticated() {
		return domain.Admin{}, domain.ErrUnauthenticated
	}
	return s.admins.GetAdmin(ctx, ident.AdminID)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
