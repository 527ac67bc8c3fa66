// Package protocol implements the binary command protocol spoken between the
// controlling application and playback players. A command is an ordered list
// of text or binary segments; the first two segments name the category and
// the action, the rest are parameters. All integers are little-endian.
package protocol

import "fmt"

// Command categories.
const (
	CategoryNetwork  = "network"
	CategoryContents = "contents"
	CategoryMedia    = "media"
	CategoryLight    = "light"
	CategorySystem   = "system"
)

// Command actions, grouped by category.
const (
	// network
	ActionPing                   = "ping"
	ActionPong                   = "pong"
	ActionRegister               = "register"     // outgoing request
	ActionRegistration           = "registration" // reply to register
	ActionIsRegistrationPossible = "isRegistrationPossible"
	ActionDisconnect             = "disconnect"

	// contents
	ActionGet = "get"
	ActionPut = "put"

	// media
	ActionDelete  = "delete"
	ActionControl = "control"

	// system
	ActionBlock   = "block"
	ActionUnblock = "unblock"
)

// Registration reply parameters sent by a player.
const (
	replyAccepted      = "accepted"
	replyAcceptedBlock = "accepted_block"
	replyYes           = "yes"
)

// MaxSegments is the largest segment count a frame header can declare.
const MaxSegments = 255

// Role is the registration role requested from a player.
type Role string

const (
	RoleNone  Role = ""
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// ParseRole converts user input into a Role. The empty string maps to RoleNone.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleNone, RoleAdmin, RoleUser:
		return Role(s), nil
	default:
		return RoleNone, fmt.Errorf("unknown role %q", s)
	}
}

// Registration is the outcome of a register handshake.
type Registration string

const (
	RegistrationNoReply         Registration = ""
	RegistrationAccepted        Registration = "yes"
	RegistrationAcceptedBlocked Registration = "yes_blocked"
	RegistrationRejected        Registration = "no"
)

// Accepted reports whether the player accepted the registration, blocked or not.
func (r Registration) Accepted() bool {
	return r == RegistrationAccepted || r == RegistrationAcceptedBlocked
}

// MediaKind names a media variant on the wire (media/put first parameter).
type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
)
