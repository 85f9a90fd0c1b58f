package push

import "time"

// ConnInfo describes one live push connection.
type ConnInfo struct {
	ConnID      string
	Source      string
	Endpoint    string
	ConnectedAt time.Time
}
