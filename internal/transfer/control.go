package transfer

import "sync"

// Mode is the signal carried by a Control
type Mode int

const (
	// ModeNone means no signal has been raised
	ModeNone Mode = iota

	// ModePause stops the transfer keeping partial bytes on disk
	ModePause

	// ModeCancel stops the transfer and deletes the staging file
	ModeCancel
)

// Control carries a cooperative stop signal into a running transfer. The
// engine observes it at I/O chunk granularity. A pause may be upgraded to a
// cancel; a cancel is final.
type Control struct {
	mu   sync.Mutex
	mode Mode
	done chan struct{}
}

// NewControl creates an unsignalled control
func NewControl() *Control {
	return &Control{done: make(chan struct{})}
}

// Pause requests the transfer to stop, preserving the staging file
func (c *Control) Pause() {
	c.signal(ModePause)
}

// Cancel requests the transfer to stop and discard the staging file
func (c *Control) Cancel() {
	c.signal(ModeCancel)
}

func (c *Control) signal(m Mode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.mode {
	case ModeNone:
		c.mode = m
		close(c.done)
	case ModePause:
		if m == ModeCancel {
			c.mode = ModeCancel
		}
	}
}

// Mode returns the currently raised signal
func (c *Control) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Done is closed once any signal has been raised
func (c *Control) Done() <-chan struct{} {
	return c.done
}
