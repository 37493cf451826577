package static

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/osvaldoandrade/qrbot/pkg/auth"
)

var ErrInvalidKey = errors.New("invalid api key")

// Key is one accepted API key. Several keys may be live at once so a client
// can move to a new key before the old one is removed.
type Key struct {
	Key     string   `json:"key"`
	Subject string   `json:"subject,omitempty"`
	Scopes  []string `json:"scopes,omitempty"`
}

type validatorConfig struct {
	Keys []Key `json:"keys"`

	// Token and Subject are the single-key shorthand.
	Token   string `json:"token,omitempty"`
	Subject string `json:"subject,omitempty"`
}

type entry struct {
	digest [sha256.Size]byte
	claims auth.Claims
}

type validator struct {
	keys []entry
}

// NewValidator accepts exactly key. It backs the X-API-Key check.
func NewValidator(key, subject string) (auth.Validator, error) {
	return newValidator([]Key{{Key: key, Subject: subject}})
}

// NewValidatorFromJSON takes a bare string key, a {"token","subject"} object,
// or {"keys":[{"key","subject","scopes"}]}.
func NewValidatorFromJSON(raw json.RawMessage) (auth.Validator, error) {
	raw = json.RawMessage(strings.TrimSpace(string(raw)))
	if len(raw) == 0 {
		return nil, errors.New("static auth: missing config")
	}
	if raw[0] == '"' {
		var key string
		if err := json.Unmarshal(raw, &key); err != nil {
			return nil, fmt.Errorf("static auth: invalid config: %w", err)
		}
		return newValidator([]Key{{Key: key}})
	}

	var cfg validatorConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("static auth: invalid config: %w", err)
	}
	keys := cfg.Keys
	if strings.TrimSpace(cfg.Token) != "" {
		keys = append([]Key{{Key: cfg.Token, Subject: cfg.Subject}}, keys...)
	}
	return newValidator(keys)
}

func newValidator(keys []Key) (auth.Validator, error) {
	if len(keys) == 0 {
		return nil, errors.New("static auth: at least one key is required")
	}
	v := &validator{keys: make([]entry, 0, len(keys))}
	for i, k := range keys {
		key := strings.TrimSpace(k.Key)
		if key == "" {
			return nil, fmt.Errorf("static auth: key %d is empty", i)
		}
		subject := strings.TrimSpace(k.Subject)
		if subject == "" {
			subject = "api-key"
		}
		v.keys = append(v.keys, entry{
			digest: sha256.Sum256([]byte(key)),
			claims: auth.Claims{Kind: "static", Subject: subject, Scopes: k.Scopes},
		})
	}
	return v, nil
}

// Validate compares digests so every comparison has the same length, and
// checks every key so timing does not reveal which one matched.
func (v *validator) Validate(token string) (*auth.Claims, error) {
	got := sha256.Sum256([]byte(strings.TrimSpace(token)))
	match := -1
	for i := range v.keys {
		if subtle.ConstantTimeCompare(got[:], v.keys[i].digest[:]) == 1 && match < 0 {
			match = i
		}
	}
	if match < 0 {
		return nil, ErrInvalidKey
	}
	claims := v.keys[match].claims
	return &claims, nil
}

func init() {
	auth.RegisterProvider("static", NewValidatorFromJSON)
}
