package auth

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simplemem/simplemem/pkg/types"
)

var testKey = bytes.Repeat([]byte{0x42}, 32)

// memUserStore is an in-memory UserStore for tests.
type memUserStore struct {
	users map[string]UserRecord
}

func newMemUserStore() *memUserStore {
	return &memUserStore{users: make(map[string]UserRecord)}
}

func (m *memUserStore) CreateUser(ctx context.Context, rec UserRecord) error {
	m.users[rec.UserID] = rec
	return nil
}

func (m *memUserStore) GetUser(ctx context.Context, userID string) (*UserRecord, error) {
	rec, ok := m.users[userID]
	if !ok {
		return nil, types.ErrNotFound
	}
	return &rec, nil
}

func TestVault_Roundtrip(t *testing.T) {
	v, err := NewVault(testKey)
	require.NoError(t, err)

	ciphertext, err := v.EncryptString("sk-provider-key")
	require.NoError(t, err)
	assert.NotContains(t, ciphertext, "sk-provider-key")

	plaintext, err := v.DecryptString(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "sk-provider-key", plaintext)
}

func TestVault_NoncesDiffer(t *testing.T) {
	v, err := NewVault(testKey)
	require.NoError(t, err)

	a, err := v.EncryptString("same input")
	require.NoError(t, err)
	b, err := v.EncryptString("same input")
	require.NoError(t, err)
	assert.NotEqual(t, a, b, "a fresh nonce per seal keeps equal plaintexts unlinkable")
}

func TestVault_RejectsBadKeySize(t *testing.T) {
	_, err := NewVault([]byte("short"))
	assert.ErrorIs(t, err, ErrInvalidKeySize)
}

func TestVault_WrongKeyFailsDecrypt(t *testing.T) {
	v1, err := NewVault(testKey)
	require.NoError(t, err)
	v2, err := NewVault(bytes.Repeat([]byte{0x43}, 32))
	require.NoError(t, err)

	ciphertext, err := v1.EncryptString("secret")
	require.NoError(t, err)
	_, err = v2.DecryptString(ciphertext)
	require.Error(t, err)
}

func TestVault_TruncatedCiphertext(t *testing.T) {
	v, err := NewVault(testKey)
	require.NoError(t, err)
	_, err = v.DecryptString("AAAA")
	assert.ErrorIs(t, err, ErrCiphertextTooShort)
}

func TestToken_IssueVerify(t *testing.T) {
	issuer := NewTokenIssuer("signing-secret", 30)

	token, err := issuer.Issue("user-1")
	require.NoError(t, err)

	userID, err := issuer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)
}

func TestToken_WrongSecret(t *testing.T) {
	token, err := NewTokenIssuer("secret-a", 30).Issue("user-1")
	require.NoError(t, err)

	_, err = NewTokenIssuer("secret-b", 30).Verify(token)
	assert.True(t, errors.Is(err, types.ErrAuth))
}

func TestToken_Expired(t *testing.T) {
	issuer := NewTokenIssuer("signing-secret", 30)
	issuer.ttl = -time.Hour

	token, err := issuer.Issue("user-1")
	require.NoError(t, err)

	_, err = issuer.Verify(token)
	assert.True(t, errors.Is(err, types.ErrAuth))

	_, err = issuer.Refresh(token)
	assert.True(t, errors.Is(err, types.ErrAuth), "expired tokens cannot be refreshed")
}

func TestToken_Garbage(t *testing.T) {
	issuer := NewTokenIssuer("signing-secret", 30)
	_, err := issuer.Verify("not-a-token")
	assert.True(t, errors.Is(err, types.ErrAuth))
}

func TestService_RegisterVerifyCredential(t *testing.T) {
	ctx := context.Background()
	users := newMemUserStore()
	vault, err := NewVault(testKey)
	require.NoError(t, err)
	svc := NewService(users, vault, NewTokenIssuer("signing-secret", 30))

	userID, token, err := svc.Register(ctx, "sk-provider-key")
	require.NoError(t, err)
	require.NotEmpty(t, userID)
	require.NotEmpty(t, token)

	// The stored key must be ciphertext.
	rec, err := users.GetUser(ctx, userID)
	require.NoError(t, err)
	assert.NotEqual(t, "sk-provider-key", rec.EncryptedKey)

	tc, err := svc.Verify(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, userID, tc.UserID)

	apiKey, err := svc.Credential(ctx, tc)
	require.NoError(t, err)
	assert.Equal(t, "sk-provider-key", apiKey)
}

func TestService_RegisterRequiresKey(t *testing.T) {
	vault, err := NewVault(testKey)
	require.NoError(t, err)
	svc := NewService(newMemUserStore(), vault, NewTokenIssuer("signing-secret", 30))

	_, _, err = svc.Register(context.Background(), "")
	assert.True(t, errors.Is(err, types.ErrInvalidArgument))
}

func TestService_VerifyRejectsDeletedUser(t *testing.T) {
	ctx := context.Background()
	users := newMemUserStore()
	vault, err := NewVault(testKey)
	require.NoError(t, err)
	svc := NewService(users, vault, NewTokenIssuer("signing-secret", 30))

	userID, token, err := svc.Register(ctx, "sk-provider-key")
	require.NoError(t, err)

	delete(users.users, userID)
	_, err = svc.Verify(ctx, token)
	assert.True(t, errors.Is(err, types.ErrAuth), "a token must not outlive its tenant row")
}

func TestTenantContext_Check(t *testing.T) {
	tc := TenantContext{UserID: "u1"}
	assert.NoError(t, tc.Check("u1"))
	assert.ErrorIs(t, tc.Check("u2"), types.ErrTenantMismatch)
	assert.ErrorIs(t, TenantContext{}.Check(""), types.ErrTenantMismatch)
}
