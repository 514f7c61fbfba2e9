package session

import (
	"os"
	"os/user"
)

// DeriveID builds the canonical session id "user@host" with an optional
// ":suffix" for running parallel shells. It is derived once per process;
// each handler instance owns the session for the id it serves.
func DeriveID(suffix string) (sessionID, userID string) {
	userID = "user"
	if u, err := user.Current(); err == nil && u.Username != "" {
		userID = u.Username
	}

	host := "localhost"
	if h, err := os.Hostname(); err == nil && h != "" {
		host = h
	}

	sessionID = userID + "@" + host
	if suffix != "" {
		sessionID += ":" + suffix
	}
	return sessionID, userID
}
