package dispatch

import (
	"fmt"
	"strings"
	"time"

	"github.com/spec-kit/registration-service/internal/config"
)

// Mode selects how far a run goes.
type Mode string

const (
	// ModeDryRun counts what would be sent and persists nothing.
	ModeDryRun Mode = "DRY_RUN"
	// ModeFull and ModeCapped both deliver and stop once CapMaxPerRun entries
	// were sent in the run.
	ModeFull   Mode = "FULL"
	ModeCapped Mode = "CAPPED"
)

// Config is the explicit per-run configuration. Nothing in the dispatcher reads
// ambient settings.
type Config struct {
	Mode              Mode
	CapMaxPerRun      int
	Throttle          time.Duration
	RetryOn429        int
	RetryBackoff      time.Duration
	Allowlist         []string
	BlockNonAllowlist bool
	// ClaimTTL is how long an in_progress claim is honored before another run
	// may take the entry over.
	ClaimTTL time.Duration
}

// ConfigFrom builds a run configuration from service settings.
func ConfigFrom(email config.EmailConfig, d config.DispatchConfig) Config {
	return Config{
		Mode:              Mode(email.Mode),
		CapMaxPerRun:      email.CapMaxPerRun,
		Throttle:          time.Duration(email.ThrottleMs) * time.Millisecond,
		RetryOn429:        email.RetryOn429,
		RetryBackoff:      time.Duration(email.RetryBackoffMs) * time.Millisecond,
		Allowlist:         email.Allowlist,
		BlockNonAllowlist: email.BlockNonAllowlist,
		ClaimTTL:          time.Duration(d.ClaimTTLSeconds) * time.Second,
	}
}

// Validate checks the configuration before a run touches storage.
func (c Config) Validate() error {
	switch c.Mode {
	case ModeDryRun, ModeFull, ModeCapped:
	default:
		return fmt.Errorf("unknown dispatch mode %q", c.Mode)
	}
	if c.CapMaxPerRun < 0 {
		return fmt.Errorf("cap must not be negative, got %d", c.CapMaxPerRun)
	}
	if c.RetryOn429 < 0 {
		return fmt.Errorf("retry count must not be negative, got %d", c.RetryOn429)
	}
	if c.Throttle < 0 || c.RetryBackoff < 0 {
		return fmt.Errorf("throttle and backoff must not be negative")
	}
	if c.ClaimTTL <= 0 {
		return fmt.Errorf("claim ttl must be positive")
	}
	return nil
}

func (c Config) allowlistSet() map[string]struct{} {
	set := make(map[string]struct{}, len(c.Allowlist))
	for _, addr := range c.Allowlist {
		addr = normalizeAddress(addr)
		if addr != "" {
			set[addr] = struct{}{}
		}
	}
	return set
}

func normalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}
