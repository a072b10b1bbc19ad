package consts

import "time"

// Network defaults
const (
	// DefaultListenPort is the TCP port the REPL listens on when none is configured
	DefaultListenPort = 5051
	// MaxLineBytes bounds a single protocol line
	MaxLineBytes = 1024 * 1024
)

// Timeouts for the REPL listener, sessions and evaluations
const (
	// EvalTimeout is the bounded wait for a single evaluation
	EvalTimeout = 10 * time.Second
	// PollInterval is how often blocking accept/read loops check for shutdown
	PollInterval = 500 * time.Millisecond
	// WriteTimeout bounds a single response write
	WriteTimeout = 10 * time.Second
	// AdminShutdownTimeout bounds the admin HTTP server shutdown
	AdminShutdownTimeout = 5 * time.Second
	// HealthCheckTimeout bounds a health request through the gateway mailbox
	HealthCheckTimeout = 2 * time.Second
)

// Queue sizes
const (
	// DefaultMailboxSize is the engine gateway's pending work capacity
	DefaultMailboxSize = 64
)
