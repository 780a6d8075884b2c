package domain

import "context"

// ChannelStatus reports the runtime state of a channel.
type ChannelStatus struct {
	ChannelID string `json:"channelId"`
	Connected bool   `json:"connected"`
	Running   bool   `json:"running"`
	LastError string `json:"lastError,omitempty"`
}

// Channel is the seam to the external messaging platform. The wire format
// and transport are owned by the implementation; the core only sees
// InboundEvent and OutboundReply.
type Channel interface {
	// ID returns the channel identifier (e.g. "telegram").
	ID() string

	// Start connects the channel and begins listening for events.
	Start(ctx context.Context) error

	// Stop gracefully disconnects the channel.
	Stop(ctx context.Context) error

	// Send delivers a reply to the originating user through this channel.
	Send(ctx context.Context, reply OutboundReply) error

	// OnEvent registers the handler invoked for each inbound event.
	OnEvent(handler func(evt InboundEvent))
}
