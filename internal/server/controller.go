package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/ghaggin/homepage/internal/model"
	"github.com/ghaggin/homepage/internal/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const (
	defaultAdminName     = "admin"
	defaultAdminPassword = "admin123"
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrWrongPassword      = errors.New("old password is incorrect")
	ErrEmptyPassword      = errors.New("new password must not be empty")
)

type Controller struct {
	repo repository.Repository
	log  *zap.Logger
	cost int
}

type ControllerParams struct {
	fx.In

	Logger *zap.Logger
	Repo   repository.Repository
}

func NewController(p ControllerParams) (*Controller, error) {
	return &Controller{
		log:  p.Logger,
		repo: p.Repo,
		cost: bcrypt.DefaultCost,
	}, nil
}

// Login returns the user matching the credentials.
func (c *Controller) Login(ctx context.Context, username string, password string) (*model.User, error) {
	u, err := c.repo.GetUserByName(ctx, username)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}

	return u, nil
}

func (c *Controller) User(ctx context.Context, id int) (*model.User, error) {
	return c.repo.GetUserByID(ctx, id)
}

func (c *Controller) CreateUser(ctx context.Context, name, password string) (*model.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), c.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	u := &model.User{Name: name, PasswordHash: string(hash)}
	if err := c.repo.AddUser(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

func (c *Controller) ChangePassword(ctx context.Context, id int, oldPassword, newPassword string) error {
	u, err := c.repo.GetUserByID(ctx, id)
	if err != nil {
		return err
	}

	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(oldPassword)) != nil {
		return ErrWrongPassword
	}
	if newPassword == "" {
		return ErrEmptyPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), c.cost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	u.PasswordHash = string(hash)

	return c.repo.UpdateUser(ctx, u)
}

// Seed creates the default admin account when no users exist.
func (c *Controller) Seed(ctx context.Context) error {
	users, err := c.repo.GetUsers(ctx)
	if err != nil {
		return err
	}
	if len(users) > 0 {
		return nil
	}

	if _, err := c.CreateUser(ctx, defaultAdminName, defaultAdminPassword); err != nil {
		return err
	}
	c.log.Warn("created default admin account, change its password", zap.String("username", defaultAdminName))
	return nil
}
