package credential

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
)

// DefaultTokenType is used when the provider omits token_type.
const DefaultTokenType = "bearer"

var validate = validator.New()

// TokenRecord is the credential stored for one identity.
type TokenRecord struct {
	AccessToken  string     `json:"access_token" validate:"required"`
	RefreshToken string     `json:"refresh_token,omitempty"`
	TokenType    string     `json:"token_type" validate:"required"`
	AccountID    string     `json:"account_id,omitempty"`
	UserID       string     `json:"uid,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	SavedAt      time.Time  `json:"saved_at"`
}

// Compile-time check that secrets are redacted when a record is logged.
var _ slog.LogValuer = (*TokenRecord)(nil)

// CanRefresh reports whether the record carries a refresh token.
func (r *TokenRecord) CanRefresh() bool {
	return r != nil && r.RefreshToken != ""
}

// Clone returns a deep copy of the record.
func (r *TokenRecord) Clone() *TokenRecord {
	if r == nil {
		return nil
	}
	c := *r
	if r.ExpiresAt != nil {
		exp := *r.ExpiresAt
		c.ExpiresAt = &exp
	}
	return &c
}

// Normalize fills defaults in place.
func (r *TokenRecord) Normalize() {
	if r.TokenType == "" {
		r.TokenType = DefaultTokenType
	}
}

// Validate checks that the record is complete.
func (r *TokenRecord) Validate() error {
	if r == nil {
		return fmt.Errorf("token record is nil")
	}
	return validate.Struct(r)
}

// Encode normalizes and validates the record and returns its JSON projection.
func Encode(r *TokenRecord) ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("token record is nil")
	}
	c := r.Clone()
	c.Normalize()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid token record: %w", err)
	}
	return json.Marshal(c)
}

// Decode parses a JSON projection and validates it.
func Decode(data []byte) (*TokenRecord, error) {
	var r TokenRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decoding token record: %w", err)
	}
	r.Normalize()
	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("invalid token record: %w", err)
	}
	return &r, nil
}

// LogValue renders the record without its secrets.
func (r *TokenRecord) LogValue() slog.Value {
	if r == nil {
		return slog.StringValue("<nil>")
	}
	attrs := []slog.Attr{
		slog.String("token_type", r.TokenType),
		slog.Bool("has_refresh_token", r.RefreshToken != ""),
		slog.String("account_id", r.AccountID),
		slog.Time("saved_at", r.SavedAt),
	}
	if r.ExpiresAt != nil {
		attrs = append(attrs, slog.Time("expires_at", *r.ExpiresAt))
	}
	return slog.GroupValue(attrs...)
}

// String implements fmt.Stringer without exposing secrets.
func (r *TokenRecord) String() string {
	if r == nil {
		return "<nil>"
	}
	exp := "never"
	if r.ExpiresAt != nil {
		exp = r.ExpiresAt.UTC().Format(time.RFC3339)
	}
	return fmt.Sprintf("TokenRecord{type=%s account=%s refreshable=%t expires=%s}", r.TokenType, r.AccountID, r.RefreshToken != "", exp)
}
