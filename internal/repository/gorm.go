package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sinkobela/ecmr-backend-sub000/internal/apperr"
	"github.com/sinkobela/ecmr-backend-sub000/internal/db/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const pgUniqueViolation = "23505"

type GormRepository struct {
	db *gorm.DB
}

func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func notFound(err error, what, id string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.NotFound("%s %s", what, id)
	}
	return err
}

func (r *GormRepository) CreateDocument(ctx context.Context, doc *models.Document, assignments []models.Assignment) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(doc).Error; err != nil {
			if isUniqueViolation(err) {
				return apperr.Conflict("document %s already exists", doc.ID)
			}
			return err
		}
		if len(assignments) > 0 {
			if err := tx.Create(&assignments).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *GormRepository) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	var doc models.Document
	if err := r.db.WithContext(ctx).First(&doc, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "document", id)
	}
	return &doc, nil
}

// updateVersioned is the check-and-increment every document write goes through.
func updateVersioned(tx *gorm.DB, doc *models.Document, expectedVersion int64) error {
	doc.Version = expectedVersion + 1
	res := tx.Model(&models.Document{}).
		Where("id = ? AND version = ?", doc.ID, expectedVersion).
		Select("kind", "status", "version", "sections", "updated_by", "updated_at", "arrived_at").
		Updates(doc)
	if res.Error != nil {
		doc.Version = expectedVersion
		return res.Error
	}
	if res.RowsAffected == 0 {
		doc.Version = expectedVersion
		return ErrStaleVersion
	}
	return nil
}

func (r *GormRepository) UpdateDocument(ctx context.Context, doc *models.Document, expectedVersion int64) error {
	return updateVersioned(r.db.WithContext(ctx), doc, expectedVersion)
}

func (r *GormRepository) DeleteDocument(ctx context.Context, id string, expectedVersion int64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Every seal append bumps the version, so a matching version means
		// no seal was added since the caller looked.
		res := tx.Where("id = ? AND version = ?", id, expectedVersion).Delete(&models.Document{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&models.Document{}).Where("id = ?", id).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return apperr.NotFound("document %s", id)
			}
			return ErrStaleVersion
		}
		var seals int64
		if err := tx.Model(&models.Seal{}).Where("document_id = ?", id).Count(&seals).Error; err != nil {
			return err
		}
		if seals > 0 {
			return apperr.Forbidden("document %s is sealed and cannot be deleted", id)
		}
		if err := tx.Where("document_id = ?", id).Delete(&models.Assignment{}).Error; err != nil {
			return err
		}
		return tx.Where("document_id = ?", id).Delete(&models.ShareToken{}).Error
	})
}

func (r *GormRepository) ListArchivable(ctx context.Context, olderThan time.Time) ([]models.Document, error) {
	var docs []models.Document
	err := r.db.WithContext(ctx).
		Where("kind = ? AND status IN ? AND updated_at < ?",
			models.KindDraft,
			[]models.DocumentStatus{models.StatusDelivered, models.StatusArrivedAtDestination},
			olderThan).
		Order("updated_at ASC").
		Find(&docs).Error
	return docs, err
}

func (r *GormRepository) ListSeals(ctx context.Context, documentID string) ([]models.Seal, error) {
	var seals []models.Seal
	err := r.db.WithContext(ctx).Where("document_id = ?", documentID).Find(&seals).Error
	return seals, err
}

func (r *GormRepository) AppendSeal(ctx context.Context, seal *models.Seal, doc *models.Document, expectedVersion int64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := updateVersioned(tx, doc, expectedVersion); err != nil {
			return err
		}
		if err := tx.Create(seal).Error; err != nil {
			doc.Version = expectedVersion
			if isUniqueViolation(err) {
				return apperr.Conflict("role %s already sealed document %s", seal.Role, seal.DocumentID)
			}
			return err
		}
		return nil
	})
}

func (r *GormRepository) ImportDocument(ctx context.Context, doc *models.Document, seals []models.Seal, assignments []models.Assignment) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(doc).Error; err != nil {
			if isUniqueViolation(err) {
				return apperr.Conflict("document %s already exists", doc.ID)
			}
			return err
		}
		if len(seals) > 0 {
			if err := tx.Create(&seals).Error; err != nil {
				if isUniqueViolation(err) {
					return apperr.Conflict("seal of document %s already exists", doc.ID)
				}
				return err
			}
		}
		if len(assignments) > 0 {
			if err := tx.Create(&assignments).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *GormRepository) ListAssignments(ctx context.Context, documentID string) ([]models.Assignment, error) {
	var out []models.Assignment
	err := r.db.WithContext(ctx).Where("document_id = ?", documentID).Order("id ASC").Find(&out).Error
	return out, err
}

func (r *GormRepository) AddAssignment(ctx context.Context, a *models.Assignment) error {
	return r.db.WithContext(ctx).Create(a).Error
}

func (r *GormRepository) GetUser(ctx context.Context, id uint) (*models.User, error) {
	var u models.User
	if err := r.db.WithContext(ctx).First(&u, id).Error; err != nil {
		return nil, notFound(err, "user", "")
	}
	return &u, nil
}

func (r *GormRepository) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	var u models.User
	if err := r.db.WithContext(ctx).Where("username = ?", username).First(&u).Error; err != nil {
		return nil, notFound(err, "user", username)
	}
	return &u, nil
}

func (r *GormRepository) SaveUser(ctx context.Context, u *models.User) error {
	return r.db.WithContext(ctx).Save(u).Error
}

func (r *GormRepository) SaveGroup(ctx context.Context, g *models.Group) error {
	return r.db.WithContext(ctx).Save(g).Error
}

func (r *GormRepository) AddGroupMember(ctx context.Context, groupID string, userID uint) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.GroupMember{GroupID: groupID, UserID: userID}).Error
}

func (r *GormRepository) GroupIDsForUser(ctx context.Context, userID uint) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&models.GroupMember{}).
		Where("user_id = ?", userID).
		Order("group_id ASC").
		Pluck("group_id", &ids).Error
	return ids, err
}

func (r *GormRepository) GroupExists(ctx context.Context, groupID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Group{}).Where("id = ?", groupID).Count(&count).Error
	return count > 0, err
}

func (r *GormRepository) SaveExternalParty(ctx context.Context, p *models.ExternalParty) error {
	return r.db.WithContext(ctx).Save(p).Error
}

func (r *GormRepository) GetExternalParty(ctx context.Context, id string) (*models.ExternalParty, error) {
	var p models.ExternalParty
	if err := r.db.WithContext(ctx).First(&p, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "external party", id)
	}
	return &p, nil
}

func (r *GormRepository) GetExternalPartyByToken(ctx context.Context, userToken string) (*models.ExternalParty, error) {
	var p models.ExternalParty
	if err := r.db.WithContext(ctx).Where("user_token = ?", userToken).First(&p).Error; err != nil {
		return nil, notFound(err, "external party", "")
	}
	return &p, nil
}

func (r *GormRepository) UpsertShareToken(ctx context.Context, t *models.ShareToken) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "document_id"}, {Name: "role"}},
		DoUpdates: clause.AssignmentColumns([]string{"token_hash", "issued_by", "issued_at"}),
	}).Create(t).Error
}

func (r *GormRepository) GetShareTokenByHash(ctx context.Context, tokenHash string) (*models.ShareToken, error) {
	var t models.ShareToken
	if err := r.db.WithContext(ctx).Where("token_hash = ?", tokenHash).First(&t).Error; err != nil {
		return nil, notFound(err, "share token", "")
	}
	return &t, nil
}

func (r *GormRepository) GetKeyShare(ctx context.Context, owner string) (*models.KeyShare, error) {
	var k models.KeyShare
	if err := r.db.WithContext(ctx).Where("owner = ? AND status = ?", owner, "ACTIVE").First(&k).Error; err != nil {
		return nil, notFound(err, "key share", owner)
	}
	return &k, nil
}

func (r *GormRepository) SaveKeyShare(ctx context.Context, k *models.KeyShare) error {
	err := r.db.WithContext(ctx).Create(k).Error
	if isUniqueViolation(err) {
		return apperr.Conflict("key share for %s already exists", k.Owner)
	}
	return err
}
