package service

// Broadcaster pushes live messages to a user's open WebSocket connections (avoids import cycle)
type Broadcaster interface {
	SendToUser(userID string, msgType string, payload interface{})
}

// MsgNotification is the WebSocket message type carrying a new notification
const MsgNotification = "notification"
