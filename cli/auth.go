package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"stopshop/models"
	"stopshop/transport"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Credentials holds flags shared by register and login.
type Credentials struct {
	Username string
	Email    string
	Password string
}

func (c *Credentials) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&c.Email, "email", "", "account email")
	cmd.Flags().StringVar(&c.Password, "password", "", "account password (or STOPSHOP_PASSWORD)")
	_ = cmd.MarkFlagRequired("email")
}

func (c *Credentials) password() (string, error) {
	if c.Password != "" {
		return c.Password, nil
	}
	if p := os.Getenv("STOPSHOP_PASSWORD"); p != "" {
		return p, nil
	}
	return "", fmt.Errorf("a password is required: pass --password or set STOPSHOP_PASSWORD")
}

// NewRegisterCommand creates the register command.
func NewRegisterCommand(opts *RootOptions) *cobra.Command {
	creds := &Credentials{}
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := creds.password()
			if err != nil {
				return err
			}
			ctx := commandContext(cmd)
			s, err := openSession(ctx, opts)
			if err != nil {
				return err
			}
			defer s.Close()

			err = s.client.Register(ctx, models.RegisterRequest{
				Username: strings.TrimSpace(creds.Username),
				Email:    strings.TrimSpace(creds.Email),
				Password: password,
			})
			if err != nil {
				return userError(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Account created for %s. Run 'stopshop login' to sign in.\n", creds.Email)
			return nil
		},
	}
	creds.bind(cmd)
	cmd.Flags().StringVar(&creds.Username, "username", "", "display name")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

// NewLoginCommand creates the login command. It stores the token and
// profile and loads the server cart for the new session.
func NewLoginCommand(opts *RootOptions) *cobra.Command {
	creds := &Credentials{}
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and load your cart",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := creds.password()
			if err != nil {
				return err
			}
			ctx := commandContext(cmd)
			s, err := openSession(ctx, opts)
			if err != nil {
				return err
			}
			defer s.Close()

			resp, err := s.client.Login(ctx, strings.TrimSpace(creds.Email), password)
			if err != nil {
				return userError(err)
			}
			if err := s.tokens.SaveSession(ctx, resp.Token, resp.User); err != nil {
				return fmt.Errorf("save session: %w", err)
			}
			s.log.Info("logged in", zap.String("userId", resp.User.UserID))

			if err := s.cart.HandleLogin(ctx); err != nil {
				return userError(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s.\n", resp.User.Name)
			return printCart(cmd.OutOrStdout(), opts.Format, s.cart.State())
		},
	}
	creds.bind(cmd)
	return cmd
}

// NewLogoutCommand creates the logout command. Local credentials are
// removed even when the server cannot be reached.
func NewLogoutCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget the local cart",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			s, err := openSession(ctx, opts)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.client.Logout(ctx); err != nil && !transport.IsAuth(err) {
				s.log.Warn("server logout failed", zap.Error(err))
			}
			if err := s.tokens.Clear(ctx); err != nil {
				return fmt.Errorf("clear session: %w", err)
			}
			s.cart.HandleLogout()
			s.orders.ClearHistory()
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out.")
			return nil
		},
	}
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
