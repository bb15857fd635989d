package actors

import "time"

const (
	DefaultInviteTimeout  = 10 * time.Second
	DefaultReconnectGrace = 2 * time.Second

	// Inbox
	EngineInboxChLen = 64

	NotifyChLen = 64
)
