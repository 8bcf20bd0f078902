package twilio

import (
	"context"
	"fmt"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
	"go.uber.org/zap"

	"github.com/acme/voice-interview/internal/config"
	"github.com/acme/voice-interview/internal/domain"
	"github.com/acme/voice-interview/internal/telephony"
	apperrors "github.com/acme/voice-interview/pkg/errors"
	"github.com/acme/voice-interview/pkg/logger"
)

// callAPI is the part of the Twilio REST API the client drives.
type callAPI interface {
	CreateCall(params *twilioApi.CreateCallParams) (*twilioApi.ApiV2010Call, error)
	UpdateCall(sid string, params *twilioApi.UpdateCallParams) (*twilioApi.ApiV2010Call, error)
}

var statusEvents = []string{"initiated", "ringing", "answered", "completed"}

// Client places and updates calls through the Twilio REST API.
type Client struct {
	api      callAPI
	cfg      config.TwilioConfig
	renderer *Renderer
	logger   *logger.Logger
}

// NewClient constructs a client from configuration.
func NewClient(cfg config.TwilioConfig, renderer *Renderer, lg *logger.Logger) *Client {
	rest := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return newClient(rest.Api, cfg, renderer, lg)
}

func newClient(api callAPI, cfg config.TwilioConfig, renderer *Renderer, lg *logger.Logger) *Client {
	return &Client{api: api, cfg: cfg, renderer: renderer, logger: lg.Named("twilio")}
}

// PlaceCall implements telephony.Dialer.
func (c *Client) PlaceCall(ctx context.Context, req telephony.CallRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	params := &twilioApi.CreateCallParams{}
	params.SetTo(req.To)
	params.SetFrom(c.cfg.FromNumber)
	params.SetUrl(c.renderer.ActionURL(0, domain.PhaseInitial))
	params.SetMethod("POST")
	params.SetStatusCallback(c.renderer.URL(telephony.StatusPath))
	params.SetStatusCallbackMethod("POST")
	params.SetStatusCallbackEvent(statusEvents)
	if c.cfg.MachineDetection != "" {
		params.SetMachineDetection(c.cfg.MachineDetection)
		if c.cfg.AsyncAMD {
			params.SetAsyncAmd("true")
			params.SetAsyncAmdStatusCallback(c.renderer.URL(telephony.AMDPath))
			params.SetAsyncAmdStatusCallbackMethod("POST")
		}
	}
	if c.cfg.RingTimeout > 0 {
		params.SetTimeout(int(c.cfg.RingTimeout.Seconds()))
	}

	resp, err := c.api.CreateCall(params)
	if err != nil {
		return "", fmt.Errorf("twilio: create call: %w: %w", apperrors.ErrProviderUnavailable, err)
	}
	if resp == nil || resp.Sid == nil || *resp.Sid == "" {
		return "", fmt.Errorf("twilio: create call: empty sid: %w", apperrors.ErrProviderUnavailable)
	}

	c.logger.WithContext(ctx).Info("call placed",
		zap.String("call_sid", *resp.Sid),
		zap.Int64("candidate_id", req.CandidateID),
	)
	return *resp.Sid, nil
}

// Interrupt implements telephony.Dialer by replacing the live call's TwiML.
func (c *Client) Interrupt(ctx context.Context, callSID string, instr domain.Instruction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	doc, err := c.renderer.Render(instr)
	if err != nil {
		return err
	}
	params := &twilioApi.UpdateCallParams{}
	params.SetTwiml(doc)
	if _, err := c.api.UpdateCall(callSID, params); err != nil {
		return fmt.Errorf("twilio: update call %s: %w: %w", callSID, apperrors.ErrProviderUnavailable, err)
	}
	return nil
}
