package telephony

import (
	"context"

	"github.com/acme/voice-interview/internal/domain"
)

// Webhook paths the provider is pointed at.
const (
	VoicePath  = "/webhooks/voice"
	StatusPath = "/webhooks/status"
	AMDPath    = "/webhooks/amd"
)

// CallRequest describes one outbound interview call.
type CallRequest struct {
	To          string
	CandidateID int64
	Role        string
}

// Dialer abstracts the telephony integration.
type Dialer interface {
	// PlaceCall asks the provider to dial and returns the provider call SID.
	PlaceCall(ctx context.Context, req CallRequest) (string, error)
	// Interrupt replaces whatever the live call is doing with instr.
	Interrupt(ctx context.Context, callSID string, instr domain.Instruction) error
}
