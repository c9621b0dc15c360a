package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/twilio/twilio-go"
	api "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/voceo/voceo/pkg/errorsx"
)

type callCreator interface {
	CreateCall(params *api.CreateCallParams) (*api.ApiV2010Call, error)
}

// OutboundDialer places interview calls to candidates over the telephone
// network. The answered call fetches TwiML from the relay's voice webhook and
// joins the same media stream path as a dial-in call.
type OutboundDialer struct {
	cfg    PhoneConfig
	client callCreator
}

func NewOutboundDialer(cfg PhoneConfig) *OutboundDialer {
	if cfg.VoicePath == "" {
		cfg.VoicePath = "/voice"
	}
	return &OutboundDialer{cfg: cfg}
}

// Dial creates the outbound call and returns its call SID. An empty voiceURL
// falls back to the webhook derived from PublicURL.
func (d *OutboundDialer) Dial(ctx context.Context, to, from, voiceURL string) (string, error) {
	_ = ctx
	if to == "" || from == "" {
		return "", errors.New("to/from required")
	}
	if d.cfg.AccountSID == "" || d.cfg.AuthToken == "" {
		return "", errors.New("missing telephony credentials")
	}
	if voiceURL == "" {
		if d.cfg.PublicURL == "" {
			return "", errors.New("public_url required to derive the voice webhook")
		}
		voiceURL = "https://" + normalizePublicHost(d.cfg.PublicURL) + d.cfg.VoicePath
	}

	client := d.client
	if client == nil {
		rest := twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: d.cfg.AccountSID,
			Password: d.cfg.AuthToken,
		})
		client = rest.Api
	}

	params := &api.CreateCallParams{}
	params.SetTo(to)
	params.SetFrom(from)
	params.SetUrl(voiceURL)
	resp, err := client.CreateCall(params)
	if err != nil {
		return "", errorsx.Wrap(err, errorsx.ReasonPhoneDial)
	}
	if resp == nil || resp.Sid == nil {
		return "", fmt.Errorf("call created without sid")
	}
	return *resp.Sid, nil
}

func normalizePublicHost(v string) string {
	v = strings.TrimPrefix(v, "https://")
	v = strings.TrimPrefix(v, "http://")
	return strings.TrimRight(v, "/")
}
