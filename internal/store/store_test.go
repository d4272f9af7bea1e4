package store

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ghaggin/homepage/internal/client"
	"github.com/ghaggin/homepage/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// stubAPI answers each path with a canned handler.
type stubAPI struct {
	get  func(path string, out any) error
	post func(path string, in, out any) error
}

func (a *stubAPI) Get(_ context.Context, path string, out any) error {
	return a.get(path, out)
}

func (a *stubAPI) Post(_ context.Context, path string, in, out any) error {
	return a.post(path, in, out)
}

func decodeInto(body string, out any) error {
	if out == nil {
		return nil
	}
	return json.Unmarshal([]byte(body), out)
}

func newHTTPStore(t *testing.T, h http.HandlerFunc) (*Store, *httptest.Server) {
	t.Helper()

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c, err := client.NewWithBaseURL(srv.URL, zap.NewNop())
	require.NoError(t, err)
	return NewWithAPI(c, zap.NewNop()), srv
}

// loggedIn returns a store already authenticated as name.
func loggedIn(t *testing.T, name string) *Store {
	t.Helper()

	s := NewWithAPI(&stubAPI{
		post: func(_ string, _, out any) error {
			return decodeInto(`{"username":"`+name+`"}`, out)
		},
	}, zap.NewNop())
	_, err := s.Login(context.Background(), name, "pw")
	require.NoError(t, err)
	return s
}

func TestNew_StartsUnauthenticated(t *testing.T) {
	s := NewWithAPI(&stubAPI{}, zap.NewNop())
	assert.Equal(t, model.Unauthenticated, s.State())
}

func TestCheckAuth_Authenticated(t *testing.T) {
	s, _ := newHTTPStore(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/check-auth", r.URL.Path)
		w.Write([]byte(`{"authenticated":true,"username":"alice"}`))
	})

	s.CheckAuth(context.Background())
	assert.Equal(t, model.State{Authenticated: true, Username: "alice"}, s.State())
}

func TestCheckAuth_NotAuthenticated(t *testing.T) {
	s := loggedIn(t, "alice")
	s.api = &stubAPI{
		get: func(_ string, out any) error {
			return decodeInto(`{"authenticated":false}`, out)
		},
	}

	s.CheckAuth(context.Background())
	assert.Equal(t, model.Unauthenticated, s.State())
}

func TestCheckAuth_MissingUsername(t *testing.T) {
	s := NewWithAPI(&stubAPI{
		get: func(_ string, out any) error {
			return decodeInto(`{"authenticated":true}`, out)
		},
	}, zap.NewNop())

	s.CheckAuth(context.Background())
	assert.Equal(t, model.State{Authenticated: true, Username: ""}, s.State())
}

func TestCheckAuth_UsernameWithoutSession(t *testing.T) {
	s := NewWithAPI(&stubAPI{
		get: func(_ string, out any) error {
			return decodeInto(`{"authenticated":false,"username":"ghost"}`, out)
		},
	}, zap.NewNop())

	s.CheckAuth(context.Background())
	assert.Equal(t, model.Unauthenticated, s.State())
}

func TestCheckAuth_FailuresNormalize(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		closed  bool
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
		},
		{
			name: "malformed json",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.Write([]byte(`{"authenticated":`))
			},
		},
		{
			name: "wrong type",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.Write([]byte(`{"authenticated":"yes","username":"alice"}`))
			},
		},
		{
			name:    "network error",
			handler: func(http.ResponseWriter, *http.Request) {},
			closed:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, srv := newHTTPStore(t, tt.handler)

			// start from an authenticated state
			s.state = model.State{Authenticated: true, Username: "alice"}

			if tt.closed {
				srv.Close()
			}

			s.CheckAuth(context.Background())
			assert.Equal(t, model.Unauthenticated, s.State())
		})
	}
}

func TestLogin_Success(t *testing.T) {
	s, _ := newHTTPStore(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/login", r.URL.Path)

		var in loginRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, loginRequest{Username: "alice", Password: "pw"}, in)

		w.Write([]byte(`{"username":"alice","token":"x"}`))
	})

	payload, err := s.Login(context.Background(), "alice", "pw")
	require.NoError(t, err)
	assert.Equal(t, Payload{"username": "alice", "token": "x"}, payload)
	assert.Equal(t, model.State{Authenticated: true, Username: "alice"}, s.State())
}

func TestLogin_UnauthorizedKeepsState(t *testing.T) {
	s, _ := newHTTPStore(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"invalid credentials"}`))
	})

	s.state = model.State{Authenticated: true, Username: "bob"}

	payload, err := s.Login(context.Background(), "alice", "wrong")
	assert.Nil(t, payload)

	var se *client.StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusUnauthorized, se.StatusCode)
	assert.Equal(t, model.State{Authenticated: true, Username: "bob"}, s.State())
}

func TestLogin_ErrorPropagatesVerbatim(t *testing.T) {
	want := errors.New("connection refused")
	s := NewWithAPI(&stubAPI{
		post: func(string, any, any) error { return want },
	}, zap.NewNop())

	_, err := s.Login(context.Background(), "alice", "pw")
	assert.Same(t, want, err)
	assert.Equal(t, model.Unauthenticated, s.State())
}

func TestLogout_Success(t *testing.T) {
	s := loggedIn(t, "alice")
	s.api = &stubAPI{
		post: func(path string, in, _ any) error {
			assert.Equal(t, logoutPath, path)
			assert.Nil(t, in)
			return nil
		},
	}

	require.NoError(t, s.Logout(context.Background()))
	assert.Equal(t, model.Unauthenticated, s.State())

	// again, from the unauthenticated state
	require.NoError(t, s.Logout(context.Background()))
	assert.Equal(t, model.Unauthenticated, s.State())
}

func TestLogout_FailureKeepsState(t *testing.T) {
	want := errors.New("boom")
	s := loggedIn(t, "alice")
	s.api = &stubAPI{
		post: func(string, any, any) error { return want },
	}

	assert.ErrorIs(t, s.Logout(context.Background()), want)
	assert.Equal(t, model.State{Authenticated: true, Username: "alice"}, s.State())
}

func TestSubscribe(t *testing.T) {
	var got []model.State
	s := NewWithAPI(&stubAPI{
		get: func(_ string, out any) error {
			return decodeInto(`{"authenticated":true,"username":"alice"}`, out)
		},
		post: func(path string, _, out any) error {
			return decodeInto(`{"username":"bob"}`, out)
		},
	}, zap.NewNop())

	cancel := s.Subscribe(func(st model.State) {
		got = append(got, st)
	})

	ctx := context.Background()
	s.CheckAuth(ctx)
	s.CheckAuth(ctx) // unchanged, no notification
	_, err := s.Login(ctx, "bob", "pw")
	require.NoError(t, err)
	require.NoError(t, s.Logout(ctx))

	cancel()
	cancel()
	s.CheckAuth(ctx)

	assert.Equal(t, []model.State{
		{Authenticated: true, Username: "alice"},
		{Authenticated: true, Username: "bob"},
		model.Unauthenticated,
	}, got)
}

func TestSubscribe_CancelFromCallback(t *testing.T) {
	calls := 0
	s := loggedIn(t, "alice")
	s.api = &stubAPI{
		post: func(string, any, any) error { return nil },
		get: func(_ string, out any) error {
			return decodeInto(`{"authenticated":true,"username":"alice"}`, out)
		},
	}

	var cancel func()
	cancel = s.Subscribe(func(model.State) {
		calls++
		cancel()
	})

	require.NoError(t, s.Logout(context.Background()))
	s.CheckAuth(context.Background())
	assert.Equal(t, 1, calls)
}

func (s *Store) tickets() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.issued
}

func (s *Store) appliedTicket() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applied
}

// gatedAPI blocks each request until its gate is released.
type gatedAPI struct {
	gates map[string]chan string
}

func (a *gatedAPI) Get(_ context.Context, path string, out any) error {
	return decodeInto(<-a.gates[path], out)
}

func (a *gatedAPI) Post(_ context.Context, path string, _, out any) error {
	return decodeInto(<-a.gates[path], out)
}

func TestStaleResponseIsDiscarded(t *testing.T) {
	api := &gatedAPI{gates: map[string]chan string{
		loginPath:  make(chan string),
		logoutPath: make(chan string),
	}}
	s := NewWithAPI(api, zap.NewNop())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := s.Login(context.Background(), "alice", "pw")
		assert.NoError(t, err)
	}()

	// wait until login holds ticket 1
	require.Eventually(t, func() bool { return s.tickets() == 1 }, time.Second, time.Millisecond)

	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, s.Logout(context.Background()))
	}()
	require.Eventually(t, func() bool { return s.tickets() == 2 }, time.Second, time.Millisecond)

	// logout resolves first, then the older login response arrives
	api.gates[logoutPath] <- `{}`
	require.Eventually(t, func() bool { return s.appliedTicket() == 2 }, time.Second, time.Millisecond)
	api.gates[loginPath] <- `{"username":"alice"}`
	wg.Wait()

	assert.Equal(t, model.Unauthenticated, s.State())
}

func TestInOrderResponsesAllApply(t *testing.T) {
	api := &gatedAPI{gates: map[string]chan string{
		loginPath:  make(chan string),
		logoutPath: make(chan string),
	}}
	s := NewWithAPI(api, zap.NewNop())

	var seen []model.State
	var mu sync.Mutex
	s.Subscribe(func(st model.State) {
		mu.Lock()
		seen = append(seen, st)
		mu.Unlock()
	})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.Login(context.Background(), "alice", "pw")
	}()
	require.Eventually(t, func() bool { return s.tickets() == 1 }, time.Second, time.Millisecond)
	go func() {
		defer wg.Done()
		s.Logout(context.Background())
	}()
	require.Eventually(t, func() bool { return s.tickets() == 2 }, time.Second, time.Millisecond)

	api.gates[loginPath] <- `{"username":"alice"}`
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 1
	}, time.Second, time.Millisecond)
	api.gates[logoutPath] <- `{}`
	wg.Wait()

	assert.Equal(t, model.Unauthenticated, s.State())
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []model.State{{Authenticated: true, Username: "alice"}, model.Unauthenticated}, seen)
}

func TestSubscriberReadsStateDuringConcurrentApply(t *testing.T) {
	api := &gatedAPI{gates: map[string]chan string{
		loginPath:  make(chan string),
		logoutPath: make(chan string),
	}}
	s := NewWithAPI(api, zap.NewNop())

	entered := make(chan struct{})
	release := make(chan struct{})
	var mu sync.Mutex
	var seen, read []model.State
	s.Subscribe(func(st model.State) {
		mu.Lock()
		first := len(seen) == 0
		seen = append(seen, st)
		mu.Unlock()

		if first {
			close(entered)
			<-release
		}

		cur := s.State()
		mu.Lock()
		read = append(read, cur)
		mu.Unlock()
	})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.Login(context.Background(), "alice", "pw")
	}()
	require.Eventually(t, func() bool { return s.tickets() == 1 }, time.Second, time.Millisecond)
	go func() {
		defer wg.Done()
		s.Logout(context.Background())
	}()
	require.Eventually(t, func() bool { return s.tickets() == 2 }, time.Second, time.Millisecond)

	// login's subscriber is parked inside its callback
	api.gates[loginPath] <- `{"username":"alice"}`
	<-entered

	// logout applies while the callback is still running
	api.gates[logoutPath] <- `{}`
	require.Eventually(t, func() bool { return s.appliedTicket() == 2 }, time.Second, time.Millisecond)
	close(release)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("store operations did not finish")
	}

	assert.Equal(t, model.Unauthenticated, s.State())
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []model.State{{Authenticated: true, Username: "alice"}, model.Unauthenticated}, seen)
	assert.Equal(t, []model.State{model.Unauthenticated, model.Unauthenticated}, read)
}

func TestLogin_NewerCheckAuthWins(t *testing.T) {
	api := &gatedAPI{gates: map[string]chan string{
		loginPath:     make(chan string),
		checkAuthPath: make(chan string),
	}}
	s := NewWithAPI(api, zap.NewNop())

	var payload Payload
	var loginErr error
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		payload, loginErr = s.Login(context.Background(), "alice", "pw")
	}()
	require.Eventually(t, func() bool { return s.tickets() == 1 }, time.Second, time.Millisecond)
	go func() {
		defer wg.Done()
		s.CheckAuth(context.Background())
	}()
	require.Eventually(t, func() bool { return s.tickets() == 2 }, time.Second, time.Millisecond)

	// the check started before the login cookie existed and answers first
	api.gates[checkAuthPath] <- `{"authenticated":false}`
	require.Eventually(t, func() bool { return s.appliedTicket() == 2 }, time.Second, time.Millisecond)
	api.gates[loginPath] <- `{"username":"alice","message":"login successful"}`
	wg.Wait()

	require.NoError(t, loginErr)
	assert.Equal(t, Payload{"username": "alice", "message": "login successful"}, payload)
	assert.Equal(t, model.Unauthenticated, s.State())
}

func TestLogin_NullBody(t *testing.T) {
	s := NewWithAPI(&stubAPI{
		post: func(_ string, _, out any) error {
			return decodeInto(`null`, out)
		},
	}, zap.NewNop())

	payload, err := s.Login(context.Background(), "alice", "pw")
	require.NoError(t, err)
	assert.NotNil(t, payload)
	assert.Empty(t, payload)
	assert.Equal(t, model.State{Authenticated: true}, s.State())
}

func TestInvariantUnderConcurrency(t *testing.T) {
	var n int
	s := NewWithAPI(&stubAPI{
		get: func(_ string, out any) error {
			return decodeInto(`{"authenticated":false,"username":"leak"}`, out)
		},
		post: func(path string, _, out any) error {
			if path == loginPath {
				return decodeInto(`{"username":"alice"}`, out)
			}
			return nil
		},
	}, zap.NewNop())

	s.Subscribe(func(st model.State) {
		n++
		assert.False(t, !st.Authenticated && st.Username != "", "invalid state %+v", st)
	})

	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(3)
		go func() { defer wg.Done(); s.CheckAuth(ctx) }()
		go func() { defer wg.Done(); s.Login(ctx, "alice", "pw") }()
		go func() { defer wg.Done(); s.Logout(ctx) }()
	}
	wg.Wait()

	st := s.State()
	assert.False(t, !st.Authenticated && st.Username != "")
	assert.Greater(t, n, 0)
}
