package domain

// ConnectionState is the single externally visible status of a peer
// session. It is always derived, never stored.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
)

// TransportState mirrors the peer connection's aggregate state.
type TransportState string

const (
	TransportNew          TransportState = "new"
	TransportConnecting   TransportState = "connecting"
	TransportConnected    TransportState = "connected"
	TransportDisconnected TransportState = "disconnected"
	TransportFailed       TransportState = "failed"
	TransportClosed       TransportState = "closed"
)

// CheckingState mirrors connectivity checking (ICE) state.
type CheckingState string

const (
	CheckingNew          CheckingState = "new"
	CheckingChecking     CheckingState = "checking"
	CheckingConnected    CheckingState = "connected"
	CheckingCompleted    CheckingState = "completed"
	CheckingDisconnected CheckingState = "disconnected"
	CheckingFailed       CheckingState = "failed"
	CheckingClosed       CheckingState = "closed"
)

// ChannelState mirrors the data channel's ready state. ChannelNone means no
// channel exists yet.
type ChannelState string

const (
	ChannelNone       ChannelState = ""
	ChannelConnecting ChannelState = "connecting"
	ChannelOpen       ChannelState = "open"
	ChannelClosing    ChannelState = "closing"
	ChannelClosed     ChannelState = "closed"
)

// Role records how a session entered its room so a reconnect can replay it.
type Role int

const (
	RoleNone Role = iota
	RoleCreator
	RoleJoiner
)

func (r Role) String() string {
	switch r {
	case RoleCreator:
		return "creator"
	case RoleJoiner:
		return "joiner"
	}
	return "none"
}
