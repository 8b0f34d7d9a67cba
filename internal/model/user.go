package model

import "strings"

// Presence is a user's availability as reported by the push channel.
type Presence string

const (
	Online  Presence = "ONLINE"
	Offline Presence = "OFFLINE"
	Away    Presence = "AWAY"
	Busy    Presence = "BUSY"
)

// ParsePresence maps a wire value to a Presence; unknown values read as Offline.
func ParsePresence(s string) (Presence, bool) {
	switch Presence(strings.ToUpper(s)) {
	case Online:
		return Online, true
	case Offline:
		return Offline, true
	case Away:
		return Away, true
	case Busy:
		return Busy, true
	}
	return Offline, false
}

// Label is the human form used in headers ("Online", "Away").
func (p Presence) Label() string {
	switch p {
	case Online:
		return "Online"
	case Away:
		return "Away"
	case Busy:
		return "Busy"
	}
	return "Offline"
}

// User is a chat participant.
type User struct {
	ID          string
	DisplayName string
	Username    string
	Email       string
	AvatarURL   string
	Presence    Presence
}

// Name returns the best available label for the user.
func (u User) Name() string {
	switch {
	case u.DisplayName != "":
		return u.DisplayName
	case u.Username != "":
		return u.Username
	case u.Email != "":
		if at := strings.IndexByte(u.Email, '@'); at > 0 {
			return u.Email[:at]
		}
		return u.Email
	}
	return u.ID
}

// Merge returns u with every non-empty field of other applied on top.
func (u User) Merge(other User) User {
	if other.DisplayName != "" {
		u.DisplayName = other.DisplayName
	}
	if other.Username != "" {
		u.Username = other.Username
	}
	if other.Email != "" {
		u.Email = other.Email
	}
	if other.AvatarURL != "" {
		u.AvatarURL = other.AvatarURL
	}
	if other.Presence != "" {
		u.Presence = other.Presence
	}
	return u
}
