package core

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// PersistedExpiryLayout renders expiries as ISO-8601 UTC with millisecond
// precision, e.g. 2000-01-01T00:00:00.000Z.
const PersistedExpiryLayout = "2006-01-02T15:04:05.000Z07:00"

// PersistedCredential is the stored shape of a CredentialRecord shared by the
// file and document backends.
type PersistedCredential struct {
	RefreshToken string `json:"refreshToken,omitempty"`
	AccessToken  string `json:"accessToken,omitempty"`
	ExpiryDate   string `json:"expiryDate,omitempty"`
}

type CredentialCodec interface {
	Encode(ctx context.Context, record CredentialRecord) (PersistedCredential, error)
	Decode(ctx context.Context, persisted PersistedCredential) (CredentialRecord, error)
}

type PlainCredentialCodec struct{}

func (PlainCredentialCodec) Encode(_ context.Context, record CredentialRecord) (PersistedCredential, error) {
	if err := record.Validate(); err != nil {
		return PersistedCredential{}, err
	}
	return PersistedCredential{
		RefreshToken: strings.TrimSpace(record.RefreshToken),
		AccessToken:  strings.TrimSpace(record.AccessToken),
		ExpiryDate:   FormatExpiry(record.ExpiresAt),
	}, nil
}

func (PlainCredentialCodec) Decode(_ context.Context, persisted PersistedCredential) (CredentialRecord, error) {
	expiresAt, err := ParseExpiry(persisted.ExpiryDate)
	if err != nil {
		return CredentialRecord{}, err
	}
	return CredentialRecord{
		RefreshToken: strings.TrimSpace(persisted.RefreshToken),
		AccessToken:  strings.TrimSpace(persisted.AccessToken),
		ExpiresAt:    expiresAt,
	}, nil
}

// SealedCredentialCodec encrypts token fields through a SecretProvider and
// leaves the expiry readable.
type SealedCredentialCodec struct {
	Secrets SecretProvider
}

func NewSealedCredentialCodec(secrets SecretProvider) (*SealedCredentialCodec, error) {
	if secrets == nil {
		return nil, fmt.Errorf("core: secret provider is required")
	}
	return &SealedCredentialCodec{Secrets: secrets}, nil
}

func (c *SealedCredentialCodec) Encode(ctx context.Context, record CredentialRecord) (PersistedCredential, error) {
	if c == nil || c.Secrets == nil {
		return PersistedCredential{}, fmt.Errorf("core: sealed codec secret provider is not configured")
	}
	plain, err := PlainCredentialCodec{}.Encode(ctx, record)
	if err != nil {
		return PersistedCredential{}, err
	}
	if plain.RefreshToken, err = c.seal(ctx, plain.RefreshToken); err != nil {
		return PersistedCredential{}, err
	}
	if plain.AccessToken, err = c.seal(ctx, plain.AccessToken); err != nil {
		return PersistedCredential{}, err
	}
	return plain, nil
}

func (c *SealedCredentialCodec) Decode(ctx context.Context, persisted PersistedCredential) (CredentialRecord, error) {
	if c == nil || c.Secrets == nil {
		return CredentialRecord{}, fmt.Errorf("core: sealed codec secret provider is not configured")
	}
	var err error
	if persisted.RefreshToken, err = c.open(ctx, persisted.RefreshToken); err != nil {
		return CredentialRecord{}, err
	}
	if persisted.AccessToken, err = c.open(ctx, persisted.AccessToken); err != nil {
		return CredentialRecord{}, err
	}
	return PlainCredentialCodec{}.Decode(ctx, persisted)
}

func (c *SealedCredentialCodec) seal(ctx context.Context, value string) (string, error) {
	if value == "" {
		return "", nil
	}
	sealed, err := c.Secrets.Encrypt(ctx, []byte(value))
	if err != nil {
		return "", fmt.Errorf("core: seal credential token: %w", err)
	}
	return string(sealed), nil
}

func (c *SealedCredentialCodec) open(ctx context.Context, value string) (string, error) {
	if value == "" {
		return "", nil
	}
	opened, err := c.Secrets.Decrypt(ctx, []byte(value))
	if err != nil {
		return "", fmt.Errorf("core: open credential token: %w", err)
	}
	return string(opened), nil
}

func FormatExpiry(expiresAt *time.Time) string {
	if expiresAt == nil {
		return ""
	}
	return expiresAt.UTC().Format(PersistedExpiryLayout)
}

func ParseExpiry(value string) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	parsed, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return nil, fmt.Errorf("core: invalid credential expiry %q: %w", value, err)
	}
	parsed = parsed.UTC()
	return &parsed, nil
}

var (
	_ CredentialCodec = PlainCredentialCodec{}
	_ CredentialCodec = (*SealedCredentialCodec)(nil)
)
