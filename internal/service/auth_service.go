package service

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"daringbooks/config"
	"daringbooks/internal/auth"
	"daringbooks/internal/repository"
)

// AuthService handles admin sign-in for the management surface.
type AuthService struct {
	cfg       *config.Config
	adminRepo *repository.AdminRepository
}

func NewAuthService(cfg *config.Config, adminRepo *repository.AdminRepository) *AuthService {
	return &AuthService{cfg: cfg, adminRepo: adminRepo}
}

type LoginResult struct {
	Token string `json:"token"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// Login verifies credentials and issues an access token. Unknown emails and
// wrong passwords both surface as ErrInvalidCredentials.
func (s *AuthService) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	admin, err := s.adminRepo.GetByEmail(email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(admin.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	token, err := auth.GenerateAccessToken(&s.cfg.JWT, admin.ID, admin.Email, admin.Role)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	admin.LastLoginAt = &now
	if err := s.adminRepo.Update(admin); err != nil {
		log.WithField("email", admin.Email).WithError(err).Warn("update last login")
	}

	return &LoginResult{Token: token, Email: admin.Email, Role: admin.Role}, nil
}
