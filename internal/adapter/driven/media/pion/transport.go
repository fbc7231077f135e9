package pion

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/Wyydra/tandem/internal/core/domain"
	"github.com/Wyydra/tandem/internal/core/port"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var ErrNoChannel = errors.New("data channel not open")

// ICEConfig lists the STUN and TURN servers handed to every transport.
type ICEConfig struct {
	STUNServers []string
	TURNServers []string
	TURNUser    string
	TURNPass    string
}

func (c ICEConfig) servers() []webrtc.ICEServer {
	var servers []webrtc.ICEServer
	if len(c.STUNServers) > 0 {
		servers = append(servers, webrtc.ICEServer{URLs: c.STUNServers})
	}
	if len(c.TURNServers) > 0 {
		servers = append(servers, webrtc.ICEServer{
			URLs:       c.TURNServers,
			Username:   c.TURNUser,
			Credential: c.TURNPass,
		})
	}
	return servers
}

// Factory builds pion peer connections.
type Factory struct {
	api    *webrtc.API
	config webrtc.Configuration
}

func NewFactory(ice ICEConfig) *Factory {
	return &Factory{
		api:    webrtc.NewAPI(),
		config: webrtc.Configuration{ICEServers: ice.servers()},
	}
}

func (f *Factory) NewTransport(events port.TransportEvents) (port.PeerTransport, error) {
	pc, err := f.api.NewPeerConnection(f.config)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	t := &Transport{pc: pc, events: events}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		raw, err := json.Marshal(c.ToJSON())
		if err != nil {
			log.Error().Err(err).Msg("Failed to marshal candidate")
			return
		}
		events.LocalCandidate(raw)
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		events.TransportStateChanged(transportState(state))
	})
	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		events.CheckingStateChanged(checkingState(state))
	})
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		log.Debug().Str("label", dc.Label()).Msg("Remote data channel announced")
		t.attach(dc)
	})
	return t, nil
}

// Transport adapts one webrtc.PeerConnection and its single data channel.
type Transport struct {
	pc     *webrtc.PeerConnection
	events port.TransportEvents

	mu sync.Mutex
	dc *webrtc.DataChannel
}

func (t *Transport) OpenChannel(label string) error {
	ordered := true
	dc, err := t.pc.CreateDataChannel(label, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return err
	}
	t.attach(dc)
	return nil
}

func (t *Transport) attach(dc *webrtc.DataChannel) {
	t.mu.Lock()
	t.dc = dc
	t.mu.Unlock()

	t.events.ChannelStateChanged(domain.ChannelConnecting)
	dc.OnOpen(func() {
		t.events.ChannelStateChanged(domain.ChannelOpen)
	})
	dc.OnClose(func() {
		t.events.ChannelStateChanged(domain.ChannelClosed)
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if !msg.IsString {
			log.Debug().Int("bytes", len(msg.Data)).Msg("Ignoring binary message")
			return
		}
		t.events.MessageReceived(string(msg.Data))
	})
}

func (t *Transport) CreateOffer() (json.RawMessage, error) {
	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return nil, err
	}
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return nil, err
	}
	return json.Marshal(offer)
}

func (t *Transport) CreateAnswer() (json.RawMessage, error) {
	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return nil, err
	}
	if err := t.pc.SetLocalDescription(answer); err != nil {
		return nil, err
	}
	return json.Marshal(answer)
}

func (t *Transport) GatheringComplete() <-chan struct{} {
	return webrtc.GatheringCompletePromise(t.pc)
}

// LocalDescription returns the current local description, including every
// candidate gathered so far.
func (t *Transport) LocalDescription() json.RawMessage {
	desc := t.pc.LocalDescription()
	if desc == nil {
		return nil
	}
	raw, err := json.Marshal(desc)
	if err != nil {
		return nil
	}
	return raw
}

func (t *Transport) ApplyRemoteDescription(raw json.RawMessage) error {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(raw, &desc); err != nil {
		return fmt.Errorf("decode session description: %w", err)
	}
	return t.pc.SetRemoteDescription(desc)
}

func (t *Transport) AddCandidate(raw json.RawMessage) error {
	var candidate webrtc.ICECandidateInit
	if err := json.Unmarshal(raw, &candidate); err != nil {
		return fmt.Errorf("decode candidate: %w", err)
	}
	return t.pc.AddICECandidate(candidate)
}

func (t *Transport) Send(text string) error {
	t.mu.Lock()
	dc := t.dc
	t.mu.Unlock()

	if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
		return ErrNoChannel
	}
	return dc.SendText(text)
}

func (t *Transport) Close() error {
	return t.pc.Close()
}

func transportState(s webrtc.PeerConnectionState) domain.TransportState {
	switch s {
	case webrtc.PeerConnectionStateNew:
		return domain.TransportNew
	case webrtc.PeerConnectionStateConnecting:
		return domain.TransportConnecting
	case webrtc.PeerConnectionStateConnected:
		return domain.TransportConnected
	case webrtc.PeerConnectionStateDisconnected:
		return domain.TransportDisconnected
	case webrtc.PeerConnectionStateFailed:
		return domain.TransportFailed
	}
	return domain.TransportClosed
}

func checkingState(s webrtc.ICEConnectionState) domain.CheckingState {
	switch s {
	case webrtc.ICEConnectionStateNew:
		return domain.CheckingNew
	case webrtc.ICEConnectionStateChecking:
		return domain.CheckingChecking
	case webrtc.ICEConnectionStateConnected:
		return domain.CheckingConnected
	case webrtc.ICEConnectionStateCompleted:
		return domain.CheckingCompleted
	case webrtc.ICEConnectionStateDisconnected:
		return domain.CheckingDisconnected
	case webrtc.ICEConnectionStateFailed:
		return domain.CheckingFailed
	}
	return domain.CheckingClosed
}
