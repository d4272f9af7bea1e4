package middleware

import (
	"context"
	"encoding/gob"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/ghaggin/homepage/internal/config"
	"github.com/ghaggin/homepage/internal/model"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	sessionKey = "session_key"
)

var (
	errSessionNotFound = errors.New("session not found")
)

type SessionManager struct {
	impl *scs.SessionManager
	log  *zap.Logger
}

type SessionParams struct {
	fx.In

	Config *config.Config
	Log    *zap.Logger
}

func NewSessionManager(p SessionParams) (*SessionManager, error) {
	return newSessionManager(p.Config.Server.SessionLifetime, p.Log), nil
}

func newSessionManager(lifetime time.Duration, log *zap.Logger) *SessionManager {
	gob.Register(&model.Session{})

	sm := &SessionManager{log: log}
	sm.impl = scs.New()
	sm.impl.Lifetime = lifetime
	sm.impl.Cookie.Name = "session"
	sm.impl.Cookie.HttpOnly = true
	sm.impl.Cookie.SameSite = http.SameSiteLaxMode

	return sm
}

func (s *SessionManager) Wrap(next http.Handler) http.Handler {
	return s.impl.LoadAndSave(next)
}

func (s *SessionManager) Get(ctx context.Context) (*model.Session, error) {
	session, ok := s.impl.Get(ctx, sessionKey).(*model.Session)
	if !ok {
		return nil, errSessionNotFound
	}

	return session, nil
}

// SetAuthenticated issues a fresh session token and records user in it.
func (s *SessionManager) SetAuthenticated(ctx context.Context, user *model.User) error {
	if err := s.impl.RenewToken(ctx); err != nil {
		return err
	}

	s.impl.Put(ctx, sessionKey, &model.Session{
		UserID:   user.ID,
		Username: user.Name,
		AuthTime: time.Now(),
	})
	return nil
}

func (s *SessionManager) Clear(ctx context.Context) error {
	return s.impl.Destroy(ctx)
}

// RequireAuth rejects requests without a session with 401.
func (s *SessionManager) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := s.Get(r.Context()); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			err := json.NewEncoder(w).Encode(map[string]string{"error": "login required"})
			if err != nil {
				s.log.Warn("failed writing response", zap.Error(err))
			}
			return
		}

		next.ServeHTTP(w, r)
	})
}
