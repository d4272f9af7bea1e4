// Package store holds the client's authentication state and the three
// operations that change it.
//
// A Store is built explicitly and handed to whatever needs it. Consumers read
// a snapshot with State or follow changes with Subscribe; they never mutate
// the state directly.
//
// Operations may run concurrently. Each one takes a ticket when it starts and
// its result is applied only if no operation started after it has already
// applied a result, so a slow response can never overwrite a newer one.
package store

import (
	"context"
	"sync"

	"github.com/ghaggin/homepage/internal/client"
	"github.com/ghaggin/homepage/internal/model"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	checkAuthPath = "/api/check-auth"
	loginPath     = "/api/login"
	logoutPath    = "/api/logout"
)

// API is the subset of the HTTP client the store needs.
type API interface {
	Get(ctx context.Context, path string, out any) error
	Post(ctx context.Context, path string, in, out any) error
}

// Payload is the decoded body of a successful login response.
type Payload map[string]any

type checkAuthResponse struct {
	Authenticated bool   `json:"authenticated"`
	Username      string `json:"username"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type Store struct {
	api API
	log *zap.Logger

	mu      sync.Mutex
	state   model.State
	issued  uint64
	applied uint64

	// changes counts state changes under mu; delivered is the last change
	// handed to subscribers and is guarded by notifyMu
	changes   uint64
	notifyMu  sync.Mutex
	delivered uint64

	subsMu  sync.Mutex
	subs    map[int]func(model.State)
	nextSub int
}

type Params struct {
	fx.In

	Client *client.Client
	Log    *zap.Logger
}

func New(p Params) *Store {
	return NewWithAPI(p.Client, p.Log)
}

func NewWithAPI(api API, log *zap.Logger) *Store {
	return &Store{
		api:   api,
		log:   log,
		state: model.Unauthenticated,
		subs:  map[int]func(model.State){},
	}
}

// State returns a snapshot of the current session state.
func (s *Store) State() model.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe registers fn to be called with the new state after a change.
// Changes are delivered in the order they were made; when several land while
// subscribers are still running, only the newest is delivered. fn may call
// State or cancel, but must not call CheckAuth, Login or Logout synchronously.
func (s *Store) Subscribe(fn func(model.State)) (cancel func()) {
	s.subsMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subsMu.Lock()
			delete(s.subs, id)
			s.subsMu.Unlock()
		})
	}
}

// CheckAuth asks the backend whether the session cookie is still valid. Any
// failure is treated as "not logged in"; it never reports an error.
func (s *Store) CheckAuth(ctx context.Context) {
	ticket := s.begin()

	var resp checkAuthResponse
	if err := s.api.Get(ctx, checkAuthPath, &resp); err != nil {
		s.log.Debug("check auth failed, treating session as unauthenticated", zap.Error(err))
		s.apply(ticket, model.Unauthenticated)
		return
	}

	s.apply(ticket, model.NewState(resp.Authenticated, resp.Username))
}

// Login posts the credentials and, on success, marks the session
// authenticated and returns the full response body. On failure the state is
// left as it was. If an operation started after Login has already updated
// the state, the payload is still returned but the state is not changed.
func (s *Store) Login(ctx context.Context, username, password string) (Payload, error) {
	ticket := s.begin()

	var resp Payload
	err := s.api.Post(ctx, loginPath, loginRequest{Username: username, Password: password}, &resp)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		// a JSON null body
		resp = Payload{}
	}

	name, _ := resp["username"].(string)
	s.apply(ticket, model.NewState(true, name))

	return resp, nil
}

// Logout ends the session on the backend and then resets the local state.
// If the request fails the state is not reset.
func (s *Store) Logout(ctx context.Context) error {
	ticket := s.begin()

	if err := s.api.Post(ctx, logoutPath, nil, nil); err != nil {
		return err
	}

	s.apply(ticket, model.Unauthenticated)
	return nil
}

func (s *Store) begin() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issued++
	return s.issued
}

func (s *Store) apply(ticket uint64, next model.State) {
	s.mu.Lock()
	if ticket < s.applied {
		applied := s.applied
		s.mu.Unlock()
		s.log.Debug("discarding stale session update",
			zap.Uint64("ticket", ticket),
			zap.Uint64("applied", applied))
		return
	}
	s.applied = ticket
	if s.state == next {
		s.mu.Unlock()
		return
	}
	s.state = next
	s.changes++
	seq := s.changes
	s.mu.Unlock()

	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	if seq <= s.delivered {
		// a newer change already reached subscribers
		return
	}
	s.delivered = seq

	for _, fn := range s.subscribers() {
		fn(next)
	}
}

// subscribers returns the callbacks in registration order.
func (s *Store) subscribers() []func(model.State) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()

	fns := make([]func(model.State), 0, len(s.subs))
	for id := 0; id < s.nextSub; id++ {
		if fn, ok := s.subs[id]; ok {
			fns = append(fns, fn)
		}
	}
	return fns
}
