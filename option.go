package msgnet

import (
	"time"
)

// Default configuration values.
const (
	// defaultMaxPackageLength is the default maximum body size of a single message (1MB).
	defaultMaxPackageLength = 1024 * 1024
)

// options holds the configuration shared by Server, Client and their connections.
type options struct {
	logger  Logger
	metrics *Metrics

	// seed produces the server's handshake seed.
	seed func() uint64

	maxReadLength    int           // maximum body size of a single message
	handshakeTimeout time.Duration // zero waits forever
	maxConnections   int           // zero accepts without limit
}

// Option is a function that configures Server and Client options.
type Option func(*options)

func newOptions(opt ...Option) options {
	var opts options
	for _, o := range opt {
		o(&opts)
	}
	checkOptions(&opts)
	return opts
}

// checkOptions sets default values for unset options.
func checkOptions(opts *options) {
	if opts.maxReadLength <= 0 {
		opts.maxReadLength = defaultMaxPackageLength
	}

	if opts.handshakeTimeout < 0 {
		opts.handshakeTimeout = 0
	}

	if opts.maxConnections < 0 {
		opts.maxConnections = 0
	}

	if opts.seed == nil {
		opts.seed = timeSeed
	}

	if opts.logger == nil {
		opts.logger = defaultLogger()
	}
}

// MessageMaxSize returns an Option that sets the maximum message body size.
// A peer announcing a larger body is disconnected with ErrMessageTooLarge.
func MessageMaxSize(size int) Option {
	return func(o *options) {
		o.maxReadLength = size
	}
}

// HandshakeTimeoutOption returns an Option that bounds how long a connection
// may spend between accept (or connect) and the end of the handshake.
// The default of zero never times out.
func HandshakeTimeoutOption(timeout time.Duration) Option {
	return func(o *options) {
		o.handshakeTimeout = timeout
	}
}

// SeedOption returns an Option that replaces the time-derived handshake
// seed source used by a Server.
func SeedOption(seed func() uint64) Option {
	return func(o *options) {
		o.seed = seed
	}
}

// MaxConnectionsOption returns an Option that caps the number of accepted
// sockets a Server keeps open at once. Further peers wait in the listen
// backlog until a slot frees up. Zero means no cap.
func MaxConnectionsOption(n int) Option {
	return func(o *options) {
		o.maxConnections = n
	}
}

// MetricsOption returns an Option that records connection and frame
// counters into m.
func MetricsOption(m *Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// LoggerOption returns an Option that sets the logger.
// If not set, the default slog logger will be used.
func LoggerOption(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}
