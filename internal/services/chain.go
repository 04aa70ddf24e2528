package services

import (
	"crypto"
	"crypto/rsa"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/sinkobela/ecmr-backend-sub000/internal/apperr"
	"github.com/sinkobela/ecmr-backend-sub000/internal/db/models"
	"github.com/sinkobela/ecmr-backend-sub000/pkg/canonhash"
)

// sealPayload is what a seal signature covers.
type sealPayload struct {
	DocumentID    string      `json:"documentId"`
	SnapshotHash  string      `json:"snapshotHash"`
	Role          models.Role `json:"role"`
	Sealer        string      `json:"sealer"`
	SignedAt      string      `json:"signedAt"`
	PrecedingSeal string      `json:"precedingSeal"`
	KeyID         string      `json:"keyId"`
}

func payloadOf(s *models.Seal) sealPayload {
	return sealPayload{
		DocumentID:    s.DocumentID,
		SnapshotHash:  s.SnapshotHash,
		Role:          s.Role,
		Sealer:        s.Sealer,
		SignedAt:      s.SignedAt.UTC().Format(time.RFC3339Nano),
		PrecedingSeal: s.PrecedingSealRef,
		KeyID:         s.KeyID,
	}
}

func sealDigest(s *models.Seal) ([]byte, error) {
	return canonhash.Digest(payloadOf(s))
}

// chainRank is the only order in which roles may appear in a chain.
func chainRank(r models.Role) int {
	switch r {
	case models.RoleSender:
		return 0
	case models.RoleCarrier:
		return 1
	case models.RoleSuccessiveCarrier:
		return 2
	case models.RoleConsignee:
		return 3
	}
	return -1
}

func invalidChain(format string, args ...any) error {
	return apperr.InvalidInput("seal chain: "+format, args...)
}

// OrderChain rebuilds the chain by following PrecedingSealRef from the single
// SENDER head. It checks structure only, not signatures.
func OrderChain(seals []models.Seal) ([]models.Seal, error) {
	if len(seals) == 0 {
		return nil, nil
	}

	var head *models.Seal
	bySignature := make(map[string]int, len(seals))
	next := make(map[string]int, len(seals))
	roles := models.NewRoleSet()
	for i := range seals {
		s := &seals[i]
		if s.Signature == "" {
			return nil, invalidChain("seal %s has no signature", s.ID)
		}
		if chainRank(s.Role) < 0 {
			return nil, invalidChain("seal %s has role %s which cannot seal", s.ID, s.Role)
		}
		if roles.Has(s.Role) {
			return nil, invalidChain("role %s sealed more than once", s.Role)
		}
		roles.Add(s.Role)
		if _, dup := bySignature[s.Signature]; dup {
			return nil, invalidChain("duplicate signature on seal %s", s.ID)
		}
		bySignature[s.Signature] = i

		if s.PrecedingSealRef == "" {
			if head != nil {
				return nil, invalidChain("more than one head (%s, %s)", head.ID, s.ID)
			}
			head = s
			continue
		}
		if other, forked := next[s.PrecedingSealRef]; forked {
			return nil, invalidChain("seals %s and %s extend the same predecessor", seals[other].ID, s.ID)
		}
		next[s.PrecedingSealRef] = i
	}

	if head == nil {
		return nil, invalidChain("no head seal")
	}
	if head.Role != models.RoleSender {
		return nil, invalidChain("head seal %s has role %s, want %s", head.ID, head.Role, models.RoleSender)
	}

	ordered := make([]models.Seal, 0, len(seals))
	cur := *head
	for {
		ordered = append(ordered, cur)
		i, ok := next[cur.Signature]
		if !ok {
			break
		}
		nxt := seals[i]
		if chainRank(nxt.Role) <= chainRank(cur.Role) {
			return nil, invalidChain("role %s cannot follow %s", nxt.Role, cur.Role)
		}
		cur = nxt
	}
	if len(ordered) != len(seals) {
		return nil, invalidChain("%d seal(s) reference a missing or mismatched predecessor", len(seals)-len(ordered))
	}
	return ordered, nil
}

// VerifySealSignature re-verifies one seal against the public key it carries.
func VerifySealSignature(s *models.Seal) error {
	if s.Algorithm != SealAlgorithm {
		return invalidChain("seal %s uses unsupported algorithm %q", s.ID, s.Algorithm)
	}
	pub, keyID, err := ParsePublicKey(s.PublicKey)
	if err != nil {
		return invalidChain("seal %s public key: %v", s.ID, err)
	}
	if keyID != s.KeyID {
		return invalidChain("seal %s key id does not match its public key", s.ID)
	}
	sig, err := base64.StdEncoding.DecodeString(s.Signature)
	if err != nil {
		return invalidChain("seal %s signature encoding: %v", s.ID, err)
	}
	digest, err := sealDigest(s)
	if err != nil {
		return err
	}
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest, sig); err != nil {
		return invalidChain("seal %s signature does not verify", s.ID)
	}
	return nil
}

// VerifyChain checks structure and every signature. One broken link fails
// the whole chain. It returns the seals in chain order.
func VerifyChain(seals []models.Seal) ([]models.Seal, error) {
	ordered, err := OrderChain(seals)
	if err != nil {
		return nil, err
	}
	var documentID string
	for i := range ordered {
		s := &ordered[i]
		if i == 0 {
			documentID = s.DocumentID
		} else if s.DocumentID != documentID {
			return nil, invalidChain("seal %s belongs to document %s, chain is for %s", s.ID, s.DocumentID, documentID)
		}
		if err := VerifySealSignature(s); err != nil {
			return nil, err
		}
	}
	return ordered, nil
}

// VerifyDocument runs VerifyChain and recomputes every seal's snapshot from
// doc, so content changed after sealing is detected.
func VerifyDocument(doc *models.Document, seals []models.Seal) ([]models.Seal, error) {
	ordered, err := VerifyChain(seals)
	if err != nil {
		return nil, err
	}
	covered := models.NewRoleSet()
	for i := range ordered {
		s := &ordered[i]
		if s.DocumentID != doc.ID {
			return nil, invalidChain("seal %s belongs to document %s, not %s", s.ID, s.DocumentID, doc.ID)
		}
		covered.Add(s.Role)
		want, err := snapshotHash(&doc.Sections, covered)
		if err != nil {
			return nil, err
		}
		if want != s.SnapshotHash {
			return nil, invalidChain("content sealed by %s was modified after sealing", s.Role)
		}
	}
	return ordered, nil
}

func chainTail(ordered []models.Seal) *models.Seal {
	if len(ordered) == 0 {
		return nil
	}
	return &ordered[len(ordered)-1]
}

func describeChain(ordered []models.Seal) string {
	out := ""
	for i, s := range ordered {
		if i > 0 {
			out += " -> "
		}
		out += fmt.Sprintf("%s(%s)", s.Role, s.ID)
	}
	return out
}
