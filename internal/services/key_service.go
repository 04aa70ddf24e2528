package services

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sinkobela/ecmr-backend-sub000/internal/apperr"
	"github.com/sinkobela/ecmr-backend-sub000/internal/db/models"
	"github.com/sinkobela/ecmr-backend-sub000/internal/repository"
	"github.com/sinkobela/ecmr-backend-sub000/pkg/metrics"
	"go.uber.org/zap"
)

const SealAlgorithm = "RSA-PKCS1v15-SHA256"

var ErrKeyNotFound = errors.New("no matching key share found")

// Signature is what the signing collaborator hands back for one digest.
type Signature struct {
	Value        []byte
	PublicKeyPEM string
	KeyID        string
	Algorithm    string
}

// Signer is the signing collaborator: it signs sha256 digests on behalf of
// owner and publishes the matching public key.
type Signer interface {
	PublicKey(ctx context.Context, owner string) (pemText, keyID string, err error)
	SignDigest(ctx context.Context, owner string, digest []byte) (*Signature, error)
}

type keyCache struct {
	cache map[string]*rsa.PrivateKey
	mu    sync.RWMutex
}

func newKeyCache() *keyCache {
	return &keyCache{cache: make(map[string]*rsa.PrivateKey)}
}

func (kc *keyCache) get(owner string) (*rsa.PrivateKey, bool) {
	kc.mu.RLock()
	defer kc.mu.RUnlock()
	k, ok := kc.cache[owner]
	return k, ok
}

func (kc *keyCache) set(owner string, key *rsa.PrivateKey) {
	kc.mu.Lock()
	defer kc.mu.Unlock()
	kc.cache[owner] = key
}

// KeyService owns one RSA signing key per sealer identity, created on first use.
type KeyService struct {
	repo     repository.Repository
	logger   *zap.Logger
	metrics  *metrics.MetricsCollector
	keyBits  int
	keyCache *keyCache
	createMu sync.Mutex
}

func NewKeyService(repo repository.Repository, logger *zap.Logger, metricsCollector *metrics.MetricsCollector, keyBits int) *KeyService {
	return &KeyService{
		repo:     repo,
		logger:   logger.With(zap.String("service", "key_service")),
		metrics:  metricsCollector,
		keyBits:  keyBits,
		keyCache: newKeyCache(),
	}
}

func (ks *KeyService) parsePrivateKey(shareData []byte, owner string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(shareData)
	if block == nil {
		return nil, fmt.Errorf("invalid PEM data for %s", owner)
	}
	priv, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse RSA key for %s: %w", owner, err)
	}
	return priv, nil
}

// LoadOrCreateKey returns the active key of owner, generating and storing
// one when none exists yet.
func (ks *KeyService) LoadOrCreateKey(ctx context.Context, owner string) (*rsa.PrivateKey, error) {
	if key, ok := ks.keyCache.get(owner); ok {
		return key, nil
	}

	ks.createMu.Lock()
	defer ks.createMu.Unlock()
	if key, ok := ks.keyCache.get(owner); ok {
		return key, nil
	}

	share, err := ks.repo.GetKeyShare(ctx, owner)
	switch {
	case err == nil:
		key, err := ks.parsePrivateKey(share.EncryptedShare, owner)
		if err != nil {
			return nil, err
		}
		ks.keyCache.set(owner, key)
		return key, nil
	case !errors.Is(err, apperr.ErrNotFound):
		return nil, fmt.Errorf("failed to fetch key share: %w", err)
	}

	start := time.Now()
	priv, err := rsa.GenerateKey(rand.Reader, ks.keyBits)
	if err != nil {
		return nil, fmt.Errorf("generate key for %s: %w", owner, err)
	}
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(priv)})
	if err := ks.repo.SaveKeyShare(ctx, &models.KeyShare{
		Owner:          owner,
		EncryptedShare: privPEM,
		Version:        1,
		Status:         "ACTIVE",
	}); err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			// another instance won the race; use its key
			share, err := ks.repo.GetKeyShare(ctx, owner)
			if err != nil {
				return nil, err
			}
			priv, err = ks.parsePrivateKey(share.EncryptedShare, owner)
			if err != nil {
				return nil, err
			}
		} else {
			return nil, err
		}
	}
	ks.keyCache.set(owner, priv)
	ks.metrics.ObserveLatency("key_service.generate", time.Since(start))
	ks.logger.Info("Created signing key", zap.String("owner", owner))
	return priv, nil
}

func (ks *KeyService) SignDigest(ctx context.Context, owner string, digest []byte) (*Signature, error) {
	priv, err := ks.LoadOrCreateKey(ctx, owner)
	if err != nil {
		ks.logger.Error("failed to load signing key", zap.String("owner", owner), zap.Error(err))
		return nil, err
	}
	sig, err := rsa.SignPKCS1v15(rand.Reader, priv, crypto.SHA256, digest)
	if err != nil {
		return nil, fmt.Errorf("failed to sign digest: %w", err)
	}
	pubPEM, keyID, err := EncodePublicKey(&priv.PublicKey)
	if err != nil {
		return nil, err
	}
	ks.metrics.IncrementCounter("key_service.signatures", nil)
	return &Signature{Value: sig, PublicKeyPEM: pubPEM, KeyID: keyID, Algorithm: SealAlgorithm}, nil
}

func (ks *KeyService) PublicKey(ctx context.Context, owner string) (string, string, error) {
	priv, err := ks.LoadOrCreateKey(ctx, owner)
	if err != nil {
		return "", "", err
	}
	return EncodePublicKey(&priv.PublicKey)
}

// EncodePublicKey returns the PKIX PEM of pub and its fingerprint.
func EncodePublicKey(pub *rsa.PublicKey) (string, string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", "", fmt.Errorf("marshal public key: %w", err)
	}
	sum := sha256.Sum256(der)
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), "sha256:" + hex.EncodeToString(sum[:]), nil
}

// ParsePublicKey decodes a PKIX PEM RSA key and recomputes its fingerprint.
func ParsePublicKey(pemText string) (*rsa.PublicKey, string, error) {
	block, _ := pem.Decode([]byte(pemText))
	if block == nil {
		return nil, "", errors.New("invalid PEM block")
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, "", err
	}
	pub, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, "", errors.New("invalid key type")
	}
	sum := sha256.Sum256(block.Bytes)
	return pub, "sha256:" + hex.EncodeToString(sum[:]), nil
}
