package envelope

import "time"

// MessagePayload is the d block of msg events.
type MessagePayload struct {
	Body string `json:"body"`
	User *User  `json:"user,omitempty"`
}

// ErrorPayload is the d block of err events.
type ErrorPayload struct {
	Code  int    `json:"code,omitempty"`
	Error string `json:"error"`
}

// MotdPayload is the d block of motd events.
type MotdPayload struct {
	Msg string `json:"msg"`
}

// Message builds an outbound msg envelope.
func Message(user User, body string, at time.Time) (Envelope, error) {
	return New(TagMsg, MessagePayload{Body: body, User: &user}, at)
}
