package hub

// Status is the connection state of a Client. Exactly one is current.
type Status string

const (
	StatusIdle            Status = "idle"
	StatusConnecting      Status = "connecting"
	StatusConnected       Status = "connected"
	StatusReconnecting    Status = "reconnecting"
	StatusDisconnected    Status = "disconnected"
	StatusUnauthenticated Status = "unauthenticated"
	StatusError           Status = "error"
)

func (s Status) String() string { return string(s) }
