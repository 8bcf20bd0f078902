package mock

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/voice-interview/internal/domain"
	"github.com/acme/voice-interview/internal/telephony"
	"github.com/acme/voice-interview/pkg/logger"
)

// Dialer simulates the provider for local runs and tests. No call is placed;
// webhooks are expected to be posted by hand or by a test.
type Dialer struct {
	mu          sync.Mutex
	logger      *logger.Logger
	placed      []telephony.CallRequest
	interrupted map[string]domain.Instruction
	// Err, when set, is returned by every PlaceCall.
	Err error
}

// NewDialer constructs a mock dialer.
func NewDialer(lg *logger.Logger) *Dialer {
	return &Dialer{logger: lg.Named("mock-dialer"), interrupted: make(map[string]domain.Instruction)}
}

// PlaceCall returns a fresh provider-shaped call SID.
func (d *Dialer) PlaceCall(ctx context.Context, req telephony.CallRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Err != nil {
		return "", d.Err
	}
	d.placed = append(d.placed, req)
	sid := "CA" + strings.ReplaceAll(uuid.NewString(), "-", "")
	d.logger.Info("simulated call", zap.String("call_sid", sid), zap.String("to", req.To))
	return sid, nil
}

// Interrupt records the instruction that would replace the live call.
func (d *Dialer) Interrupt(_ context.Context, callSID string, instr domain.Instruction) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.interrupted[callSID] = instr
	return nil
}

// Placed returns the requests seen so far.
func (d *Dialer) Placed() []telephony.CallRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]telephony.CallRequest(nil), d.placed...)
}

// Interrupted returns the instruction pushed to a call, if any.
func (d *Dialer) Interrupted(callSID string) (domain.Instruction, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	instr, ok := d.interrupted[callSID]
	return instr, ok
}
