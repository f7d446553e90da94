package clock

import (
	"fmt"
	"time"

	"github.com/park285/cheese-board/internal/chess/rules"
)

// Clock counts down per side. It only reports; whoever drives it decides what
// expiry means. Not safe for concurrent use; the owning session serializes access.
type Clock struct {
	enabled   bool
	increment time.Duration
	white     time.Duration
	black     time.Duration
}

type State struct {
	Enabled   bool          `json:"enabled"`
	White     time.Duration `json:"white"`
	Black     time.Duration `json:"black"`
	Increment time.Duration `json:"increment"`
}

func New(initial, increment time.Duration) *Clock {
	if initial < 0 {
		initial = 0
	}
	if increment < 0 {
		increment = 0
	}
	return &Clock{
		enabled:   true,
		increment: increment,
		white:     initial,
		black:     initial,
	}
}

// Disabled returns a clock that ignores ticks and never expires.
func Disabled() *Clock { return &Clock{} }

func (c *Clock) Enabled() bool { return c != nil && c.enabled }

func (c *Clock) Tick(side rules.Color, elapsed time.Duration) {
	if !c.Enabled() || elapsed <= 0 {
		return
	}
	rem := c.slot(side)
	if elapsed >= *rem {
		*rem = 0
		return
	}
	*rem -= elapsed
}

func (c *Clock) ApplyIncrement(side rules.Color) {
	if !c.Enabled() || c.increment == 0 {
		return
	}
	*c.slot(side) += c.increment
}

func (c *Clock) IsExpired(side rules.Color) bool {
	return c.Enabled() && *c.slot(side) <= 0
}

func (c *Clock) Remaining(side rules.Color) time.Duration {
	if !c.Enabled() {
		return 0
	}
	return *c.slot(side)
}

// Set overwrites both sides, used when restoring a saved session.
func (c *Clock) Set(white, black time.Duration) {
	if !c.Enabled() {
		return
	}
	c.white = max(white, 0)
	c.black = max(black, 0)
}

func (c *Clock) State() State {
	if !c.Enabled() {
		return State{}
	}
	return State{Enabled: true, White: c.white, Black: c.black, Increment: c.increment}
}

func (c *Clock) slot(side rules.Color) *time.Duration {
	if side == rules.Black {
		return &c.black
	}
	return &c.white
}

// Format renders a duration as m:ss for the PGN clock tags.
func Format(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return fmt.Sprintf("%d:%02d", int(d.Minutes()), int(d.Seconds())%60)
}
