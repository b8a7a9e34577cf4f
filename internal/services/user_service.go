package services

import (
	"errors"
	"time"

	"golang.org/x/crypto/bcrypt"

	"panel-service/internal/auth"
	"panel-service/internal/models"
	"panel-service/internal/repositories/postgres"
)

var ErrInvalidCredentials = errors.New("invalid email or password")

// UserService owns login and token refresh for panel operators.
type UserService struct {
	repo   *postgres.UserRepository
	issuer *auth.JWTAuthenticator
}

func NewUserService(repo *postgres.UserRepository, issuer *auth.JWTAuthenticator) *UserService {
	return &UserService{repo: repo, issuer: issuer}
}

func (s *UserService) Login(req *models.LoginRequest) (*models.LoginResponse, error) {
	user, err := s.repo.FindByEmail(req.Email)
	if err != nil {
		if errors.Is(err, postgres.ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	token, err := s.issuer.Issue(user.ID, user.Username)
	if err != nil {
		return nil, err
	}

	return &models.LoginResponse{
		Token:     token,
		ExpiresAt: time.Now().Add(s.issuer.TTL()),
		User: models.UserResponse{
			ID:        user.ID,
			Email:     user.Email,
			Username:  user.Username,
			CreatedAt: user.CreatedAt,
			Avatar:    user.Avatar,
		},
	}, nil
}

// Refresh issues a fresh token for an already-authenticated user. The caller
// is responsible for having validated the presented credential.
func (s *UserService) Refresh(userID uint) (*models.RefreshResponse, error) {
	user, err := s.repo.FindByID(userID)
	if err != nil {
		return nil, err
	}

	token, err := s.issuer.Issue(user.ID, user.Username)
	if err != nil {
		return nil, err
	}

	return &models.RefreshResponse{
		Token:     token,
		ExpiresAt: time.Now().Add(s.issuer.TTL()),
	}, nil
}

func (s *UserService) GetProfile(userID uint) (*models.UserResponse, error) {
	user, err := s.repo.FindByID(userID)
	if err != nil {
		return nil, err
	}
	return &models.UserResponse{
		ID:        user.ID,
		Email:     user.Email,
		Username:  user.Username,
		CreatedAt: user.CreatedAt,
		Avatar:    user.Avatar,
	}, nil
}
