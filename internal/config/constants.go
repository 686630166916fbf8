package config

import "time"

// Database connection pool settings
const (
	DBMaxOpenConns    = 25
	DBMaxIdleConns    = 5
	DBConnMaxLifetime = 5 * time.Minute
)

// HTTP server timeouts
const (
	ServerRequestTimeout  = 60 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Database ping timeout for health checks
const DBPingTimeout = 5 * time.Second

// Background job intervals
const CleanupJobInterval = 5 * time.Minute

// Websocket connection limits
const (
	WSWriteTimeout     = 10 * time.Second
	WSPongTimeout      = 60 * time.Second
	WSPingInterval     = 30 * time.Second
	WSMaxFrameBytes    = 64 * 1024
	WSSendBufferEvents = 100
)

// Typing signal windows. A typing flag with no stopTyping clears itself
// after TypingExpiry; senders emit at most one typing per TypingDebounce
// and one stopTyping after TypingIdleGap without keystrokes.
const (
	TypingExpiry   = 2500 * time.Millisecond
	TypingDebounce = 2 * time.Second
	TypingIdleGap  = 1200 * time.Millisecond
)

// Client-side polling fallback for missed relay events
const HistoryPollInterval = 2 * time.Second

// Bound on waiting for a send ack before the optimistic copy is flagged
// failed
const DefaultAckTimeout = 10 * time.Second

// Default rate limiting
const DefaultRateLimitPerMin = 120
