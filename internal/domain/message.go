package domain

import "time"

// Attachment represents a media attachment on an inbound event.
type Attachment struct {
	ID       string `json:"id,omitempty"`
	Path     string `json:"path,omitempty"` // local file as fetched by the channel
	MimeType string `json:"mimeType,omitempty"`
	Filename string `json:"filename,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// InboundEvent is a message received from a messaging channel.
// Exactly one of Body or Media carries the payload; events with Media
// go through the transcoder before reaching the conversation machine.
type InboundEvent struct {
	ID        string      `json:"id"`
	ChannelID string      `json:"channelId"`
	UserID    string      `json:"userId"`
	UserName  string      `json:"userName,omitempty"`
	Body      string      `json:"body,omitempty"`
	Media     *Attachment `json:"media,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// OutboundReply is a reply to be delivered back to the originating user.
type OutboundReply struct {
	ChannelID string `json:"channelId"`
	UserID    string `json:"userId"`
	Body      string `json:"body"`
	ReplyToID string `json:"replyToId,omitempty"`
}
