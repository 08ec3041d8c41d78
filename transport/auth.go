package transport

import (
	"context"
	"net/http"

	"stopshop/models"
)

// Login exchanges credentials for a token and profile. It is the only call
// made without a bearer token.
func (c *Client) Login(ctx context.Context, email, password string) (models.LoginResponse, error) {
	var out models.LoginResponse
	err := c.do(ctx, request{
		op:     "login",
		method: http.MethodPost,
		path:   "/api/auth/login",
		body:   models.LoginRequest{Email: email, Password: password},
		out:    &out,
	})
	if err == nil && out.Token == "" {
		return out, newError("login", KindServer, 0, "login response carried no token", nil)
	}
	return out, err
}

// Register creates an account.
func (c *Client) Register(ctx context.Context, in models.RegisterRequest) error {
	return c.do(ctx, request{
		op:     "register",
		method: http.MethodPost,
		path:   "/api/auth/register",
		body:   in,
	})
}

// Logout revokes the current token server-side.
func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, request{
		op:     "logout",
		method: http.MethodPost,
		path:   "/api/auth/logout",
		auth:   true,
	})
}
