package twilio

import (
	"github.com/twilio/twilio-go/client"
)

// SignatureHeader carries the provider's request signature.
const SignatureHeader = "X-Twilio-Signature"

// Validator checks that webhooks were signed with the account auth token.
type Validator struct {
	v client.RequestValidator
}

// NewValidator constructs a validator for the given auth token.
func NewValidator(authToken string) *Validator {
	return &Validator{v: client.NewRequestValidator(authToken)}
}

// Valid reports whether signature matches the full public URL and form params.
func (v *Validator) Valid(fullURL string, params map[string]string, signature string) bool {
	if signature == "" {
		return false
	}
	return v.v.Validate(fullURL, params, signature)
}
