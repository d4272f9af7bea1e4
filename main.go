package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/ghaggin/homepage/internal/client"
	"github.com/ghaggin/homepage/internal/config"
	"github.com/ghaggin/homepage/internal/server"
	"github.com/ghaggin/homepage/internal/store"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

type clientArgs struct {
	cmd      string
	user     string
	password string
}

func main() {
	var (
		mode     = flag.String("mode", "", "either server or client")
		cmd      = flag.String("cmd", "check", "client command: check, login or logout")
		user     = flag.String("user", "", "username for login")
		password = flag.String("password", "", "password for login")
	)
	flag.Parse()

	deps := fx.Options(
		fx.Provide(
			newLogger,
			config.New,
		),
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
	)

	var app *fx.App
	if *mode == "server" {
		app = fx.New(
			deps,
			server.Module,
			fx.Invoke(server.RegisterHooks),
		)
	} else if *mode == "client" {
		app = fx.New(
			deps,
			fx.Provide(client.New, store.New),
			fx.Supply(clientArgs{cmd: *cmd, user: *user, password: *password}),
			fx.Invoke(registerClientRun),
		)
	} else {
		fmt.Fprintln(os.Stderr, "unrecognized mode, use -mode server or -mode client")
		os.Exit(2)
	}

	app.Run()
}

func newLogger(c *config.Config) (*zap.Logger, error) {
	if c.Log.Development {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// registerClientRun runs one store operation once the app has started and
// then shuts the app down.
func registerClientRun(lc fx.Lifecycle, sd fx.Shutdowner, st *store.Store, args clientArgs, log *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				code := 0
				if err := runClient(context.Background(), st, args); err != nil {
					log.Error("command failed", zap.String("cmd", args.cmd), zap.Error(err))
					code = 1
				}
				if err := sd.Shutdown(fx.ExitCode(code)); err != nil {
					log.Error("shutdown", zap.Error(err))
				}
			}()
			return nil
		},
	})
}

var errUnknownCommand = errors.New("unknown command")

func runClient(ctx context.Context, st *store.Store, args clientArgs) error {
	st.CheckAuth(ctx)

	switch args.cmd {
	case "check":
	case "login":
		payload, err := st.Login(ctx, args.user, args.password)
		if err != nil {
			return err
		}
		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		fmt.Println(string(b))
	case "logout":
		if err := st.Logout(ctx); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: %q", errUnknownCommand, args.cmd)
	}

	state := st.State()
	fmt.Printf("authenticated=%t username=%q\n", state.Authenticated, state.Username)
	return nil
}
