package scheduler

import (
	"fmt"
	"strings"
	"time"
)

// Phase is a tier of the time budget. Phases only move forward within one
// logical batch: initial, then extended, then unlimited.
type Phase int

const (
	PhaseInitial Phase = iota
	PhaseExtended
	PhaseUnlimited
)

var phaseNames = [...]string{"initial", "extended", "unlimited"}

func (p Phase) String() string {
	if p < PhaseInitial || p > PhaseUnlimited {
		return fmt.Sprintf("phase(%d)", int(p))
	}
	return phaseNames[p]
}

// ParsePhase converts a phase name to a Phase.
func ParsePhase(s string) (Phase, error) {
	for i, name := range phaseNames {
		if strings.EqualFold(s, name) {
			return Phase(i), nil
		}
	}
	return PhaseInitial, fmt.Errorf("unknown phase %q (valid: initial, extended, unlimited)", s)
}

// MarshalText implements encoding.TextMarshaler.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Phase) UnmarshalText(b []byte) error {
	parsed, err := ParsePhase(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Next returns the following phase. Unlimited is terminal.
func (p Phase) Next() Phase {
	if p >= PhaseUnlimited {
		return PhaseUnlimited
	}
	return p + 1
}

// Terminal reports whether no further phase exists.
func (p Phase) Terminal() bool {
	return p >= PhaseUnlimited
}

// Budget bounds the work done in one phase.
type Budget struct {
	// Total is the active time the phase may consume. Zero means no cap.
	Total time.Duration

	// PerAttempt abandons a single attempt after this much time.
	PerAttempt time.Duration

	// IterationCap lowers the per-attempt iteration cap when positive.
	IterationCap int

	// SoftWarning logs a warning once cumulative active time passes it.
	// Zero disables the warning.
	SoftWarning time.Duration

	// HardAbort terminates the batch once cumulative active time passes it.
	// Zero disables the abort.
	HardAbort time.Duration
}

// DefaultBudget returns the built-in budget for p.
func DefaultBudget(p Phase) Budget {
	switch p {
	case PhaseInitial:
		return Budget{
			Total:        2 * time.Second,
			PerAttempt:   500 * time.Millisecond,
			IterationCap: 200_000,
		}
	case PhaseExtended:
		return Budget{
			Total:        10 * time.Second,
			PerAttempt:   2 * time.Second,
			IterationCap: 1_000_000,
		}
	default:
		return Budget{
			PerAttempt:   30 * time.Second,
			IterationCap: 10_000_000,
			SoftWarning:  60 * time.Second,
			HardAbort:    300 * time.Second,
		}
	}
}
