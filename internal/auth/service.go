package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/simplemem/simplemem/pkg/types"
)

// TenantContext pins a verified tenant identity to a request. It is derived
// from the bearer token once at the transport boundary and passed explicitly
// into every engine and store call.
type TenantContext struct {
	UserID string
}

// Check returns ErrTenantMismatch when the context does not own targetUserID.
func (tc TenantContext) Check(targetUserID string) error {
	if tc.UserID == "" || tc.UserID != targetUserID {
		return types.ErrTenantMismatch
	}
	return nil
}

// UserRecord is one row of the users table. The provider API key is stored
// only as AEAD ciphertext.
type UserRecord struct {
	UserID       string
	EncryptedKey string
	CreatedAt    time.Time
}

// UserStore persists tenant records. Implemented by the metadata store.
type UserStore interface {
	CreateUser(ctx context.Context, rec UserRecord) error
	GetUser(ctx context.Context, userID string) (*UserRecord, error)
}

// Service ties registration, token issuance, and credential decryption
// together.
type Service struct {
	users  UserStore
	vault  *Vault
	issuer *TokenIssuer
}

// NewService constructs an auth service.
func NewService(users UserStore, vault *Vault, issuer *TokenIssuer) *Service {
	return &Service{users: users, vault: vault, issuer: issuer}
}

// Register encrypts the provider API key, creates a new tenant, and returns
// its id together with a signed bearer token.
func (s *Service) Register(ctx context.Context, providerAPIKey string) (userID, token string, err error) {
	if providerAPIKey == "" {
		return "", "", fmt.Errorf("%w: provider_api_key is required", types.ErrInvalidArgument)
	}

	encrypted, err := s.vault.EncryptString(providerAPIKey)
	if err != nil {
		return "", "", fmt.Errorf("encrypt credential: %w", err)
	}

	userID = uuid.New().String()
	if err := s.users.CreateUser(ctx, UserRecord{
		UserID:       userID,
		EncryptedKey: encrypted,
		CreatedAt:    time.Now().UTC(),
	}); err != nil {
		return "", "", fmt.Errorf("create user: %w", err)
	}

	token, err = s.issuer.Issue(userID)
	if err != nil {
		return "", "", err
	}
	return userID, token, nil
}

// Verify validates a token and returns the tenant context it binds.
func (s *Service) Verify(ctx context.Context, token string) (TenantContext, error) {
	userID, err := s.issuer.Verify(token)
	if err != nil {
		return TenantContext{}, err
	}
	// The token may outlive a deleted tenant; confirm the row still exists.
	if _, err := s.users.GetUser(ctx, userID); err != nil {
		return TenantContext{}, fmt.Errorf("%w: unknown user", types.ErrAuth)
	}
	return TenantContext{UserID: userID}, nil
}

// Refresh re-issues a token for a still-valid one.
func (s *Service) Refresh(ctx context.Context, token string) (string, error) {
	return s.issuer.Refresh(token)
}

// Credential returns the decrypted provider API key for a tenant. Only the
// provider gateway calls this; the plaintext never leaves the process.
func (s *Service) Credential(ctx context.Context, tc TenantContext) (string, error) {
	rec, err := s.users.GetUser(ctx, tc.UserID)
	if err != nil {
		return "", fmt.Errorf("%w: unknown user", types.ErrAuth)
	}
	return s.vault.DecryptString(rec.EncryptedKey)
}
