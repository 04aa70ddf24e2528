package services

import (
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"testing"

	"github.com/sinkobela/ecmr-backend-sub000/internal/repository"
	"github.com/sinkobela/ecmr-backend-sub000/pkg/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestKeyServiceCreatesOneKeyPerOwner(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	ks := NewKeyService(repo, zap.NewNop(), metrics.NewMetricsCollector(), testKeyBits)

	pemA, idA, err := ks.PublicKey(ctx, "user:1")
	require.NoError(t, err)
	pemA2, idA2, err := ks.PublicKey(ctx, "user:1")
	require.NoError(t, err)
	assert.Equal(t, pemA, pemA2)
	assert.Equal(t, idA, idA2)

	_, idB, err := ks.PublicKey(ctx, "party:x")
	require.NoError(t, err)
	assert.NotEqual(t, idA, idB)

	// A second instance on the same store loads the persisted key.
	reloaded := NewKeyService(repo, zap.NewNop(), metrics.NewMetricsCollector(), testKeyBits)
	_, idA3, err := reloaded.PublicKey(ctx, "user:1")
	require.NoError(t, err)
	assert.Equal(t, idA, idA3)
}

func TestSignDigestVerifiesWithEmbeddedKey(t *testing.T) {
	ctx := context.Background()
	ks := NewKeyService(repository.NewMemoryRepository(), zap.NewNop(), metrics.NewMetricsCollector(), testKeyBits)

	digest := sha256.Sum256([]byte("consignment"))
	sig, err := ks.SignDigest(ctx, "user:7", digest[:])
	require.NoError(t, err)
	assert.Equal(t, SealAlgorithm, sig.Algorithm)

	pub, keyID, err := ParsePublicKey(sig.PublicKeyPEM)
	require.NoError(t, err)
	assert.Equal(t, sig.KeyID, keyID)
	assert.NoError(t, rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], sig.Value))
}

func TestParsePublicKeyRejectsGarbage(t *testing.T) {
	_, _, err := ParsePublicKey("not a key")
	assert.Error(t, err)
}
