package model

type SessionKind string

const (
	SessionKindSupport SessionKind = "support"
	SessionKindPeer    SessionKind = "peer"
)

type SessionStatus string

const (
	SessionStatusOpen   SessionStatus = "open"
	SessionStatusClosed SessionStatus = "closed"
)

type MessageOrigin string

const (
	OriginUser  MessageOrigin = "user"
	OriginAgent MessageOrigin = "agent"
)

type ConnectionStatus string

const (
	ConnectionStatusPending  ConnectionStatus = "pending"
	ConnectionStatusAccepted ConnectionStatus = "accepted"
)
