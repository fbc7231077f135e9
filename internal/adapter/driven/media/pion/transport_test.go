package pion

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/Wyydra/tandem/internal/core/domain"
	"github.com/pion/webrtc/v4"
)

type recorder struct {
	mu       sync.Mutex
	channels []domain.ChannelState
}

func (r *recorder) LocalCandidate(json.RawMessage)              {}
func (r *recorder) TransportStateChanged(domain.TransportState) {}
func (r *recorder) CheckingStateChanged(domain.CheckingState)   {}
func (r *recorder) MessageReceived(string)                      {}

func (r *recorder) ChannelStateChanged(state domain.ChannelState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels = append(r.channels, state)
}

func TestTransportOfferAnswer(t *testing.T) {
	f := NewFactory(ICEConfig{})

	offerEvents := &recorder{}
	offerer, err := f.NewTransport(offerEvents)
	if err != nil {
		t.Fatalf("NewTransport: %v", err)
	}
	defer offerer.Close()

	if err := offerer.OpenChannel("messageChannel"); err != nil {
		t.Fatalf("OpenChannel: %v", err)
	}
	offerEvents.mu.Lock()
	if len(offerEvents.channels) != 1 || offerEvents.channels[0] != domain.ChannelConnecting {
		t.Fatalf("channel states = %v, want [connecting]", offerEvents.channels)
	}
	offerEvents.mu.Unlock()

	offer, err := offerer.CreateOffer()
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(offer, &desc); err != nil {
		t.Fatalf("decode offer: %v", err)
	}
	if desc.Type != webrtc.SDPTypeOffer || desc.SDP == "" {
		t.Fatalf("offer = %+v, want a non-empty offer", desc)
	}

	answerer, err := f.NewTransport(&recorder{})
	if err != nil {
		t.Fatalf("NewTransport: %v", err)
	}
	defer answerer.Close()

	if err := answerer.ApplyRemoteDescription(offer); err != nil {
		t.Fatalf("ApplyRemoteDescription: %v", err)
	}
	answer, err := answerer.CreateAnswer()
	if err != nil {
		t.Fatalf("CreateAnswer: %v", err)
	}
	if err := offerer.ApplyRemoteDescription(answer); err != nil {
		t.Fatalf("apply answer: %v", err)
	}
}

func TestTransportRejectsMalformedInput(t *testing.T) {
	tr, err := NewFactory(ICEConfig{}).NewTransport(&recorder{})
	if err != nil {
		t.Fatalf("NewTransport: %v", err)
	}
	defer tr.Close()

	if err := tr.ApplyRemoteDescription(json.RawMessage(`not json`)); err == nil {
		t.Fatalf("malformed description accepted")
	}
	if err := tr.AddCandidate(json.RawMessage(`[]`)); err == nil {
		t.Fatalf("malformed candidate accepted")
	}
	if err := tr.Send("hello"); err != ErrNoChannel {
		t.Fatalf("Send without channel: err = %v, want ErrNoChannel", err)
	}
}

func TestStateMapping(t *testing.T) {
	transport := map[webrtc.PeerConnectionState]domain.TransportState{
		webrtc.PeerConnectionStateNew:          domain.TransportNew,
		webrtc.PeerConnectionStateConnecting:   domain.TransportConnecting,
		webrtc.PeerConnectionStateConnected:    domain.TransportConnected,
		webrtc.PeerConnectionStateDisconnected: domain.TransportDisconnected,
		webrtc.PeerConnectionStateFailed:       domain.TransportFailed,
		webrtc.PeerConnectionStateClosed:       domain.TransportClosed,
	}
	for in, want := range transport {
		if got := transportState(in); got != want {
			t.Errorf("transportState(%s) = %s, want %s", in, got, want)
		}
	}

	checking := map[webrtc.ICEConnectionState]domain.CheckingState{
		webrtc.ICEConnectionStateNew:          domain.CheckingNew,
		webrtc.ICEConnectionStateChecking:     domain.CheckingChecking,
		webrtc.ICEConnectionStateConnected:    domain.CheckingConnected,
		webrtc.ICEConnectionStateCompleted:    domain.CheckingCompleted,
		webrtc.ICEConnectionStateDisconnected: domain.CheckingDisconnected,
		webrtc.ICEConnectionStateFailed:       domain.CheckingFailed,
		webrtc.ICEConnectionStateClosed:       domain.CheckingClosed,
	}
	for in, want := range checking {
		if got := checkingState(in); got != want {
			t.Errorf("checkingState(%s) = %s, want %s", in, got, want)
		}
	}
}

func TestICEServers(t *testing.T) {
	servers := ICEConfig{
		STUNServers: []string{"stun:stun.example.org:3478"},
		TURNServers: []string{"turn:turn.example.org:3478"},
		TURNUser:    "user",
		TURNPass:    "pass",
	}.servers()

	if len(servers) != 2 {
		t.Fatalf("servers = %d, want 2", len(servers))
	}
	if servers[1].Username != "user" || servers[1].Credential != "pass" {
		t.Fatalf("turn credentials not carried: %+v", servers[1])
	}
	if len(ICEConfig{}.servers()) != 0 {
		t.Fatalf("empty config produced servers")
	}
}
