package crawler

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/dashcrawl/api/schemas"
	"github.com/xkilldash9x/dashcrawl/internal/config"
)

// Credentials are held only for the duration of a login.
type Credentials struct {
	Username string
	Password string
}

// String never reveals the password.
func (c Credentials) String() string {
	return c.Username + ":******"
}

// Authenticator drives the login form of the dashboard application.
type Authenticator struct {
	cfg     *config.Config
	logger  *zap.Logger
	emitter *Emitter
}

// NewAuthenticator creates an Authenticator.
func NewAuthenticator(cfg *config.Config, logger *zap.Logger, emitter *Emitter) *Authenticator {
	return &Authenticator{cfg: cfg, logger: logger.Named("auth"), emitter: emitter}
}

// Login loads targetURL, fills in the credentials and submits the form. When
// verification is enabled the login form must be gone after the submit.
func (a *Authenticator) Login(ctx context.Context, page schemas.Page, targetURL string, creds Credentials) error {
	sel := a.cfg.Selectors

	a.emitter.Emit(schemas.PhaseLogin, "Loading the login page at %s.", targetURL)
	if err := page.Navigate(ctx, targetURL); err != nil {
		return fmt.Errorf("failed to load login page: %w", err)
	}

	a.emitter.Emit(schemas.PhaseLogin, "Page loaded! Logging in as %s.", creds.Username)
	for _, field := range []string{sel.Username, sel.Password, sel.Submit} {
		n, err := page.Count(ctx, field)
		if err != nil {
			return fmt.Errorf("failed to query login form: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("%w: login form field %s", schemas.ErrElementNotFound, field)
		}
	}

	delay := a.cfg.Extraction.TypingDelay
	if err := page.Type(ctx, sel.Username, creds.Username, delay); err != nil {
		return fmt.Errorf("failed to enter username: %w", err)
	}
	if err := page.Type(ctx, sel.Password, creds.Password, delay); err != nil {
		return fmt.Errorf("failed to enter password: %w", err)
	}
	if err := page.ClickAndWait(ctx, sel.Submit); err != nil {
		return fmt.Errorf("failed to submit credentials: %w", err)
	}

	if a.cfg.Auth.VerifyLogin {
		n, err := page.Count(ctx, sel.Username)
		if err != nil {
			return fmt.Errorf("failed to verify login: %w", err)
		}
		if n > 0 {
			return fmt.Errorf("%w: the login form is still shown for %s", schemas.ErrLoginRejected, creds.Username)
		}
	}

	a.emitter.Emit(schemas.PhaseLogin, "Credentials submitted. Waiting for dashboard pages to load.")
	a.logger.Info("Logged in.", zap.String("username", creds.Username))
	return nil
}
