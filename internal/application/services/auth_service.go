package services

import (
	"errors"

	"github.com/AmberSignal/pulsestat-go/internal/infrastructure/observability/logging"
	"github.com/AmberSignal/pulsestat-go/internal/infrastructure/security"
	"github.com/AmberSignal/pulsestat-go/pkg/config"
	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials is returned for any failed login attempt.
var ErrInvalidCredentials = errors.New("invalid credentials")

// AuthService authenticates the operator and issues session tokens for the
// rollup query surface.
type AuthService struct {
	jwtSecret    string
	passwordHash string
	logger       *logging.ChanneledLogger
}

// NewAuthService creates the auth service. The configured admin password is
// hashed once at startup so the plaintext never sits in memory longer than
// necessary.
func NewAuthService(jwtSecret string, logger *logging.ChanneledLogger) (*AuthService, error) {
	svc := &AuthService{
		jwtSecret: jwtSecret,
		logger:    logger,
	}

	if config.AdminPassword != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(config.AdminPassword), bcrypt.DefaultCost)
		if err != nil {
			return nil, err
		}
		svc.passwordHash = string(hash)
	}

	return svc, nil
}

// Login verifies the operator password and returns a signed session token.
func (s *AuthService) Login(password string) (string, error) {
	if s.passwordHash == "" {
		s.logger.Auth().Warn("Login attempted but no admin password is configured")
		return "", ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(s.passwordHash), []byte(password)); err != nil {
		s.logger.Auth().Warn("Login failed: password mismatch")
		return "", ErrInvalidCredentials
	}

	token, err := security.GenerateAdminToken(s.jwtSecret, config.TokenLifetime)
	if err != nil {
		return "", err
	}

	s.logger.Auth().Info("Operator login succeeded")
	return token, nil
}

// ValidateToken checks a bearer token issued by Login.
func (s *AuthService) ValidateToken(token string) error {
	_, err := security.ValidateJWT(token, s.jwtSecret)
	return err
}
