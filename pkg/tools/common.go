package tools

import "github.com/gofrs/uuid"

// SessionID returns a short random identifier for correlating log lines
// of one mapper session.
func SessionID() string {
	return uuid.Must(uuid.NewV4()).String()[:8]
}
