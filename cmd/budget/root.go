package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"budgettracker/internal/client"
	apperrors "budgettracker/internal/errors"
	"budgettracker/internal/identity"
	"budgettracker/internal/logger"
	"budgettracker/internal/models"
	"budgettracker/internal/reconcile"
	"budgettracker/internal/session"
)

const (
	defaultAPIURL = "http://localhost:8080/api/v1"
	configDir     = ".budget"
)

// app carries what every command shares: settings, output and the API client.
type app struct {
	v      *viper.Viper
	out    io.Writer
	client *client.Client
}

func newRootCmd(out io.Writer) *cobra.Command {
	a := &app{v: viper.New(), out: out}

	root := &cobra.Command{
		Use:           "budget",
		Short:         "Track income and expenses from the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup()
		},
	}

	flags := root.PersistentFlags()
	flags.String("api-url", defaultAPIURL, "budget tracker API base URL")
	flags.String("session-file", "", "where the signed-in session is stored")
	flags.Duration("timeout", client.DefaultTimeout, "HTTP request timeout")
	flags.String("resubscribe", "never", "realtime recovery policy: never or backoff")
	flags.String("config", "", "config file (default ~/.budget/config.yaml)")

	for key, name := range map[string]string{
		"api_url":      "api-url",
		"session_file": "session-file",
		"timeout":      "timeout",
		"resubscribe":  "resubscribe",
		"config":       "config",
	} {
		_ = a.v.BindPFlag(key, flags.Lookup(name))
	}

	root.AddCommand(
		newSignupCmd(a),
		newLoginCmd(a),
		newLogoutCmd(a),
		newWhoamiCmd(a),
		newListCmd(a),
		newAddCmd(a),
		newDeleteCmd(a),
		newSummaryCmd(a),
		newExportCmd(a),
		newImportCmd(a),
		newWatchCmd(a),
	)
	return root
}

// setup reads configuration from flags, BUDGET_* variables and the config
// file, in that order of precedence, and builds the API client.
func (a *app) setup() error {
	v := a.v
	v.SetEnvPrefix("BUDGET")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	v.SetDefault("env", "cli")

	home, _ := os.UserHomeDir()
	v.SetDefault("session_file", filepath.Join(home, configDir, "session.json"))

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(filepath.Join(home, configDir))
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("reading config: %w", err)
		}
	}

	logger.Init(v.GetString("env"))

	timeout := v.GetDuration("timeout")
	if timeout <= 0 {
		timeout = client.DefaultTimeout
	}
	a.client = client.New(v.GetString("api_url"),
		client.WithSessionFile(v.GetString("session_file")),
		client.WithTimeout(timeout),
	)
	return nil
}

// restore brings back the saved session, if any.
func (a *app) restore(ctx context.Context) (*identity.User, error) {
	return a.client.Restore(ctx)
}

// liveSession is a started reconciliation controller bound to the signed-in user.
type liveSession struct {
	user     *identity.User
	observer *session.Observer
	ctrl     *reconcile.Controller
}

// openSession restores the saved session and starts the controller for its
// user: the initial list is loaded and the realtime channel opened.
func (a *app) openSession(ctx context.Context) (*liveSession, error) {
	policy, err := reconcile.ParsePolicy(a.v.GetString("resubscribe"))
	if err != nil {
		return nil, err
	}
	if _, err := a.restore(ctx); err != nil {
		return nil, err
	}

	obs := session.New(a.client)
	ctrl := reconcile.New(a.client, reconcile.WithResubscribe(policy))
	obs.Start()
	select {
	case <-obs.Ready():
	case <-ctx.Done():
		obs.Close()
		ctrl.Close()
		return nil, ctx.Err()
	}

	s := &liveSession{user: obs.CurrentUser(), observer: obs, ctrl: ctrl}
	if s.user == nil {
		s.Close()
		return nil, apperrors.WithMessage(apperrors.ErrAuthRequired, "not signed in: run `budget login` first")
	}
	if err := ctrl.HandleSession(ctx, s.user, obs.IsLoading()); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Close stops observing the session and tears down the subscription.
func (s *liveSession) Close() {
	s.observer.Close()
	s.ctrl.Close()
}

// waitSettled waits until no placeholder is left in the list, so that a
// command exits after the store confirmed its writes. It gives up after limit.
func (s *liveSession) waitSettled(ctx context.Context, limit time.Duration) {
	settled := make(chan struct{}, 1)
	check := func(items []models.Transaction) {
		for _, t := range items {
			if t.IsPlaceholder() {
				return
			}
		}
		select {
		case settled <- struct{}{}:
		default:
		}
	}
	remove := s.ctrl.OnChange(check)
	defer remove()
	check(s.ctrl.Items())

	timer := time.NewTimer(limit)
	defer timer.Stop()
	select {
	case <-settled:
	case <-timer.C:
	case <-ctx.Done():
	}
}
