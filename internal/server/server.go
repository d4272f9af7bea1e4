// Package server is a development backend for the homepage session API. It
// serves login, logout, check-auth and change-password over JSON with cookie
// sessions so the client can be run end to end.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/ghaggin/homepage/internal/config"
	"github.com/ghaggin/homepage/internal/middleware"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Server struct {
	log        *zap.Logger
	server     *http.Server
	controller *Controller
	sessions   *middleware.SessionManager
}

type Params struct {
	fx.In

	Log        *zap.Logger
	Config     *config.Config
	Controller *Controller
	Sessions   *middleware.SessionManager
}

func New(p Params) (*Server, error) {
	s := &Server{
		log:        p.Log,
		controller: p.Controller,
		sessions:   p.Sessions,
	}

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", p.Config.Server.Port),
		Handler: s.routes(p.Config.Server.AllowedOrigins),
	}

	return s, nil
}

func (s *Server) routes(origins []string) http.Handler {
	corsOpts := cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}
	if len(origins) == 0 {
		// reflect any origin; the browser still needs an exact match to send
		// credentials
		corsOpts.AllowOriginFunc = func(_ *http.Request, _ string) bool { return true }
	}

	root := chi.NewRouter()
	root.Use(chimw.Recoverer)
	root.Use(cors.Handler(corsOpts))
	root.Use(s.sessions.Wrap)

	root.Route("/api", func(r chi.Router) {
		// No Auth
		r.Post("/login", s.login)
		r.Post("/logout", s.logout)
		r.Get("/check-auth", s.checkAuth)

		// Auth
		r.Group(func(r chi.Router) {
			r.Use(s.sessions.RequireAuth)
			r.Post("/change-password", s.changePassword)
		})
	})

	return root
}

func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// RegisterHooks should be invoked by fx
func RegisterHooks(lc fx.Lifecycle, s *Server) {
	lc.Append(fx.Hook{
		OnStart: s.Start,
		OnStop:  s.server.Shutdown,
	})
}

func (s *Server) Start(ctx context.Context) error {
	if err := s.controller.Seed(ctx); err != nil {
		return fmt.Errorf("seed users: %w", err)
	}

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}

	s.log.Info("serving session api", zap.String("addr", ln.Addr().String()))
	go func() {
		err := s.server.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("error serving", zap.Error(err))
		}
	}()
	return nil
}
