package session

import "github.com/Wyydra/tandem/internal/core/domain"

// Observe derives the connection state from the three signals a transport
// reports. The data channel wins because it is the only signal that proves
// the session is usable.
func Observe(transport domain.TransportState, checking domain.CheckingState, channel domain.ChannelState) domain.ConnectionState {
	switch {
	case channel == domain.ChannelOpen:
		return domain.StateConnected
	case channel == domain.ChannelConnecting:
		return domain.StateConnecting
	case transport == domain.TransportConnected && checking == domain.CheckingConnected:
		return domain.StateConnected
	case transport == domain.TransportNew || transport == domain.TransportConnecting,
		checking == domain.CheckingChecking || checking == domain.CheckingConnected:
		return domain.StateConnecting
	}
	return domain.StateDisconnected
}

// signals holds the latest input of each kind. Only the inputs are kept;
// the connection state is recomputed from them on every change.
type signals struct {
	transport domain.TransportState
	checking  domain.CheckingState
	channel   domain.ChannelState
}

func (s signals) observe() domain.ConnectionState {
	return Observe(s.transport, s.checking, s.channel)
}

func freshSignals() signals {
	return signals{
		transport: domain.TransportNew,
		checking:  domain.CheckingNew,
		channel:   domain.ChannelNone,
	}
}
