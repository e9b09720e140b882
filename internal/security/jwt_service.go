package security

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"quizzana/internal/domain"
)

// JWTService signs HS256 session tokens for admins.
type JWTService struct {
	secretKey []byte
	issuer    string
	ttl       time.Duration
	now       func() time.Time
}

func NewJWTService(secret, issuer string, ttl time.Duration) *JWTService {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &JWTService{
		secretKey: []byte(secret),
		issuer:    issuer,
		ttl:       ttl,
		now:       time.Now,
	}
}

// Issue signs a token for admin and returns the identity it carries.
func (s *JWTService) Issue(admin domain.Admin) (string, domain.Identity, error) {
	now := s.now()
	ident := domain.Identity{
		AdminID:   admin.ID,
		Email:     admin.Email,
		Name:      admin.Name,
		TokenID:   uuid.NewString(),
		ExpiresAt: now.Add(s.ttl).Truncate(time.Second),
	}
	claims := jwt.MapClaims{
		"sub":   ident.AdminID,
		"iss":   s.issuer,
		"jti":   ident.TokenID,
		"email": ident.Email,
		"name":  ident.Name,
		"exp":   ident.ExpiresAt.Unix(),
		"iat":   now.Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secretKey)
	if err != nil {
		return "", domain.Identity{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, ident, nil
}

// Parse validates signature, issuer and expiry and returns the identity.
func (s *JWTService) Parse(tokenString string) (domain.Identity, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.secretKey, nil
	},
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("%w: %v", domain.ErrUnauthenticated, err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return domain.Identity{}, domain.ErrUnauthenticated
	}

	sub, _ := claims["sub"].(string)
	jti, _ := claims["jti"].(string)
	if sub == "" || jti == "" {
		return domain.Identity{}, fmt.Errorf("%w: token without subject", domain.ErrUnauthenticated)
	}
	email, _ := claims["email"].(string)
	name, _ := claims["name"].(string)
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return domain.Identity{}, domain.ErrUnauthenticated
	}
	return domain.Identity{
		AdminID:   sub,
		Email:     email,
		Name:      name,
		TokenID:   jti,
		ExpiresAt: exp.Time,
	}, nil
}
