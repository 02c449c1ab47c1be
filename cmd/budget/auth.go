package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	apperrors "budgettracker/internal/errors"
	"budgettracker/internal/identity"
)

type credentialFlags struct {
	email    string
	password string
}

func (f *credentialFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.email, "email", "", "account email")
	cmd.Flags().StringVar(&f.password, "password", "", "account password (read from stdin when omitted)")
	_ = cmd.MarkFlagRequired("email")
}

// resolve reads the password from in when it was not passed as a flag.
func (f *credentialFlags) resolve(in io.Reader) error {
	if f.password != "" {
		return nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return fmt.Errorf("reading password: %w", err)
	}
	f.password = strings.TrimRight(line, "\r\n")
	if f.password == "" {
		return apperrors.WithMessage(apperrors.ErrInvalidInput, "password is required")
	}
	return nil
}

func newSignupCmd(a *app) *cobra.Command {
	var creds credentialFlags
	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create an account and sign in",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.authenticate(cmd, &creds, a.client.CreateAccount)
		},
	}
	creds.register(cmd)
	return cmd
}

func newLoginCmd(a *app) *cobra.Command {
	var creds credentialFlags
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in to an existing account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.authenticate(cmd, &creds, a.client.SignIn)
		},
	}
	creds.register(cmd)
	return cmd
}

type authFunc func(ctx context.Context, email, password string) (*identity.User, error)

func (a *app) authenticate(cmd *cobra.Command, creds *credentialFlags, fn authFunc) error {
	if creds.password == "" {
		fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
	}
	if err := creds.resolve(cmd.InOrStdin()); err != nil {
		return err
	}
	user, err := fn(cmd.Context(), strings.TrimSpace(creds.email), creds.password)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Signed in as %s\n", user.Name())
	return nil
}

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget the saved session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			user, err := a.restore(cmd.Context())
			if err != nil {
				return err
			}
			if user == nil {
				fmt.Fprintln(a.out, "Not signed in")
				return nil
			}
			if err := a.client.SignOut(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(a.out, "Signed out")
			return nil
		},
	}
}

func newWhoamiCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			user, err := a.restore(cmd.Context())
			if err != nil {
				return err
			}
			if user == nil {
				fmt.Fprintln(a.out, "Not signed in")
				return nil
			}
			fmt.Fprintf(a.out, "%s <%s>\n", user.Name(), user.Email)
			return nil
		},
	}
}
