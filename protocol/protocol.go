// Package protocol defines the JSON frames exchanged over the push channel.
//
// Client to server: get_notifications, mark_read, ping.
// Server to client: notification, notifications, error, pong.
//
// Every frame is a WebSocket text message holding one JSON object with a
// "type" discriminator.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/campushub/campushub/types"
	"github.com/google/uuid"
)

// MessageType discriminates frames.
type MessageType string

// Client to server.
const (
	TypeGetNotifications MessageType = "get_notifications"
	TypeMarkRead         MessageType = "mark_read"
	TypePing             MessageType = "ping"
)

// Server to client.
const (
	TypeNotification  MessageType = "notification"
	TypeNotifications MessageType = "notifications"
	TypeError         MessageType = "error"
	TypePong          MessageType = "pong"
)

// MaxFrameSize bounds inbound client frames.
const MaxFrameSize = 4 << 10

// Errors returned by DecodeRequest. All of them wrap ErrMalformed.
var (
	ErrMalformed   = errors.New("malformed message")
	ErrUnknownType = fmt.Errorf("%w: unknown message type", ErrMalformed)
)

// Request is a client to server frame.
type Request struct {
	Type           MessageType `json:"type"`
	Limit          int         `json:"limit,omitempty"`
	Offset         int         `json:"offset,omitempty"`
	NotificationID string      `json:"notificationId,omitempty"`

	notificationID uuid.UUID
}

// ID returns the parsed notification id of a mark_read request.
func (r *Request) ID() uuid.UUID {
	return r.notificationID
}

// GetNotifications builds a get_notifications request.
func GetNotifications(limit, offset int) Request {
	return Request{Type: TypeGetNotifications, Limit: limit, Offset: offset}
}

// MarkRead builds a mark_read request.
func MarkRead(id uuid.UUID) Request {
	return Request{Type: TypeMarkRead, NotificationID: id.String(), notificationID: id}
}

// Ping builds a ping request.
func Ping() Request {
	return Request{Type: TypePing}
}

// DecodeRequest parses and validates a client frame.
func DecodeRequest(data []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch req.Type {
	case TypePing:
	case TypeGetNotifications:
		if req.Limit < 0 {
			return nil, fmt.Errorf("%w: limit must not be negative", ErrMalformed)
		}
		if req.Offset < 0 {
			return nil, fmt.Errorf("%w: offset must not be negative", ErrMalformed)
		}
	case TypeMarkRead:
		id, err := uuid.Parse(req.NotificationID)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid notificationId %q", ErrMalformed, req.NotificationID)
		}
		req.notificationID = id
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownType, req.Type)
	}

	return &req, nil
}

// Frame is a server to client frame as seen by the client. Only the fields
// relevant to Type are set.
type Frame struct {
	Type          MessageType          `json:"type"`
	Notification  *types.Notification  `json:"notification,omitempty"`
	Notifications []types.Notification `json:"notifications,omitempty"`
	Message       string               `json:"message,omitempty"`
}

// DecodeFrame parses a server frame.
func DecodeFrame(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	switch f.Type {
	case TypeNotification:
		if f.Notification == nil {
			return nil, fmt.Errorf("%w: notification frame without notification", ErrMalformed)
		}
	case TypeNotifications:
		if f.Notifications == nil {
			f.Notifications = []types.Notification{}
		}
	case TypeError, TypePong:
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownType, f.Type)
	}
	return &f, nil
}

type notificationFrame struct {
	Type         MessageType         `json:"type"`
	Notification *types.Notification `json:"notification"`
}

type notificationsFrame struct {
	Type          MessageType          `json:"type"`
	Notifications []types.Notification `json:"notifications"`
}

type errorFrame struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}

type emptyFrame struct {
	Type MessageType `json:"type"`
}

// NotificationFrame is the server push of a newly created notification.
func NotificationFrame(n *types.Notification) any {
	return notificationFrame{Type: TypeNotification, Notification: n}
}

// NotificationsFrame answers get_notifications. A nil list is sent as [].
func NotificationsFrame(list []types.Notification) any {
	if list == nil {
		list = []types.Notification{}
	}
	return notificationsFrame{Type: TypeNotifications, Notifications: list}
}

// ErrorFrame reports a malformed request or a failure processing it.
func ErrorFrame(msg string) any {
	return errorFrame{Type: TypeError, Message: msg}
}

// PongFrame answers ping.
func PongFrame() any {
	return emptyFrame{Type: TypePong}
}
