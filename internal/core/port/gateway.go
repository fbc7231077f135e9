package port

import (
	"context"

	"github.com/Wyydra/tandem/internal/core/domain"
)

// RealTimeGateway delivers relay output to connected participants. Delivery
// is fire-and-forget: an error means the frame was not queued, never that
// the peer failed to process it.
type RealTimeGateway interface {
	SendSignal(ctx context.Context, to domain.ParticipantID, env domain.Envelope) error
	SendUsers(ctx context.Context, to domain.ParticipantID, users domain.Users) error
	NotifyPeerJoined(ctx context.Context, to domain.ParticipantID, joined domain.ParticipantID) error
}
