package envelope

import "time"

// User identifies a peer in join and leave payloads.
type User struct {
	PubKey string `json:"pubkey"`
	Nick   string `json:"nick"`
}

// UserPayload is the d block of join and leave events.
type UserPayload struct {
	User User `json:"user"`
}

// Handshake builds the join envelope a client announces itself with.
func Handshake(nick, armoredPubKey string, at time.Time) (Envelope, error) {
	return New(TagJoin, UserPayload{
		User: User{PubKey: armoredPubKey, Nick: nick},
	}, at)
}
