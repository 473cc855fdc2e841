package verify

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/twilio/twilio-go"
	verifyv2 "github.com/twilio/twilio-go/rest/verify/v2"
)

// StatusApproved is the Twilio Verify status of an accepted code.
const StatusApproved = "approved"

// DefaultChannel is the delivery channel for issued codes.
const DefaultChannel = "sms"

// verifyAPI is the subset of the Twilio Verify v2 API used by TwilioProvider.
type verifyAPI interface {
	CreateVerification(serviceSid string, params *verifyv2.CreateVerificationParams) (*verifyv2.VerifyV2Verification, error)
	CreateVerificationCheck(serviceSid string, params *verifyv2.CreateVerificationCheckParams) (*verifyv2.VerifyV2VerificationCheck, error)
}

// Opts holds configuration options for the Twilio Verify provider.
type Opts struct {
	AccountSID string
	AuthToken  string
	ServiceSID string
	Channel    string
}

// Option defines a configuration option for the Twilio Verify provider.
type Option func(*Opts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) Option {
	return func(o *Opts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token.
func WithAuthToken(token string) Option {
	return func(o *Opts) { o.AuthToken = token }
}

// WithServiceSID sets the Verify service SID.
func WithServiceSID(sid string) Option {
	return func(o *Opts) { o.ServiceSID = sid }
}

// WithChannel overrides the delivery channel (sms, whatsapp, call).
func WithChannel(channel string) Option {
	return func(o *Opts) { o.Channel = channel }
}

// TwilioProvider issues and checks codes through Twilio Verify.
type TwilioProvider struct {
	api        verifyAPI
	serviceSID string
	channel    string
}

// NewTwilioProvider creates a provider backed by the Twilio REST client.
func NewTwilioProvider(opts ...Option) (*TwilioProvider, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.ServiceSID == "" {
		cfg.ServiceSID = os.Getenv("TWILIO_VERIFY_SERVICE_SID")
	}
	slog.Debug("Twilio Verify config loaded",
		"AccountSID_set", cfg.AccountSID != "",
		"AuthToken_set", cfg.AuthToken != "",
		"ServiceSID_set", cfg.ServiceSID != "")

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}
	if cfg.ServiceSID == "" {
		return nil, fmt.Errorf("verify service SID must be provided")
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return newTwilioProvider(client.VerifyV2, cfg.ServiceSID, cfg.Channel), nil
}

func newTwilioProvider(api verifyAPI, serviceSID, channel string) *TwilioProvider {
	if channel == "" {
		channel = DefaultChannel
	}
	return &TwilioProvider{api: api, serviceSID: serviceSID, channel: channel}
}

// Issue starts a verification for phone.
func (p *TwilioProvider) Issue(ctx context.Context, phone string) error {
	params := &verifyv2.CreateVerificationParams{}
	params.SetTo(phone)
	params.SetChannel(p.channel)

	if _, err := p.api.CreateVerification(p.serviceSID, params); err != nil {
		slog.Error("TwilioProvider Issue failed", "phone", phone, "error", err)
		return fmt.Errorf("failed to start verification for %s: %w", phone, err)
	}
	slog.Debug("TwilioProvider Issue succeeded", "phone", phone, "channel", p.channel)
	return nil
}

// Check submits code for phone and reports whether Twilio approved it.
func (p *TwilioProvider) Check(ctx context.Context, phone, code string) (bool, error) {
	params := &verifyv2.CreateVerificationCheckParams{}
	params.SetTo(phone)
	params.SetCode(code)

	resp, err := p.api.CreateVerificationCheck(p.serviceSID, params)
	if err != nil {
		slog.Error("TwilioProvider Check failed", "phone", phone, "error", err)
		return false, fmt.Errorf("failed to check verification for %s: %w", phone, err)
	}
	approved := resp != nil && resp.Status != nil && *resp.Status == StatusApproved
	slog.Debug("TwilioProvider Check completed", "phone", phone, "approved", approved)
	return approved, nil
}
