package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rentdesk/rentdesk/internal/shared"
)

// TokenIssuer signs bearer tokens.
type TokenIssuer interface {
	Issue(subject string, role shared.Role, ttl time.Duration) (string, error)
}

// TokenOptions holds the flags of the token issue command.
type TokenOptions struct {
	Subject string
	Role    string
	TTL     time.Duration
	Stdout  io.Writer
	Stderr  io.Writer
}

// TokenCommand prints a signed token for a staff member.
func TokenCommand(issuer TokenIssuer, opts TokenOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if err := validateTokenOptions(opts); err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "token issue: %v\n", err)
		return ExitError
	}
	token, err := issuer.Issue(strings.TrimSpace(opts.Subject), shared.Role(opts.Role), opts.TTL)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "token issue: %v\n", err)
		return ExitError
	}
	_, _ = fmt.Fprintln(opts.Stdout, token)
	return ExitOK
}

func validateTokenOptions(opts TokenOptions) error {
	if strings.TrimSpace(opts.Subject) == "" {
		return errors.New("--subject is required")
	}
	if !shared.Role(opts.Role).Valid() {
		return fmt.Errorf("unknown role %q (expected %s or %s)", opts.Role, shared.RoleAdmin, shared.RoleFrontDesk)
	}
	if opts.TTL <= 0 {
		return errors.New("--ttl must be positive")
	}
	return nil
}
