package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Prashanth-Ravikumar/SafeSteps-Backend/internal/models"
	"github.com/Prashanth-Ravikumar/SafeSteps-Backend/internal/repository"
)

// EnsureAdmin creates the bootstrap admin account if no user owns the
// configured email yet. Safe to call on every startup.
func (s *Service) EnsureAdmin(ctx context.Context, name, email, password, phone string) error {
	_, err := s.users.GetByEmail(ctx, email)
	if err == nil {
		return nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("look up admin user: %w", err)
	}

	user, err := s.Register(ctx, RegisterInput{
		Name:     name,
		Email:    email,
		Password: password,
		Phone:    phone,
		Role:     models.RoleAdmin,
	})
	if err != nil {
		return fmt.Errorf("create admin user: %w", err)
	}

	slog.Info("bootstrap admin created", "email", user.Email)
	return nil
}
