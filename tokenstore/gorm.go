package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const gormUpdateRetries = 4

// Record is the relational row behind GormStore.
type Record struct {
	UserID    string `gorm:"primaryKey;size:128"`
	Provider  string `gorm:"primaryKey;size:64"`
	Purpose   string `gorm:"primaryKey;size:64"`
	Value     string `gorm:"type:text;not null"`
	Version   int64  `gorm:"not null;default:1"`
	UpdatedAt time.Time
}

// TableName keeps the table name stable regardless of naming strategy.
func (Record) TableName() string { return "mfa_token_records" }

// GormStore keeps token records in a SQL table through GORM. Update locks the
// row where the dialect supports it and additionally guards the write with a
// version check, so it stays atomic on SQLite as well as Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps db. gorm.Config.TranslateError is not required: Update
// maps driver errors through the dialector itself to spot a lost insert race.
//
// On SQLite, concurrent writers need a busy timeout and immediate
// transactions (_busy_timeout and _txlock=immediate in the DSN); otherwise
// the second writer fails with "database is locked" instead of waiting.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// AutoMigrate creates the record table. Intended for tests and local demos.
func (s *GormStore) AutoMigrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&Record{})
}

func (s *GormStore) where(db *gorm.DB, k Key) *gorm.DB {
	return db.Where("user_id = ? AND provider = ? AND purpose = ?", k.UserID, k.Provider, k.Purpose)
}

// Get returns the stored value and whether it exists.
func (s *GormStore) Get(ctx context.Context, k Key) (string, bool, error) {
	if !k.Valid() {
		return "", false, ErrInvalidKey
	}
	var rec Record
	err := s.where(s.db.WithContext(ctx), k).Take(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return rec.Value, true, nil
}

// Set upserts the record.
func (s *GormStore) Set(ctx context.Context, k Key, value string) error {
	if !k.Valid() {
		return ErrInvalidKey
	}
	rec := Record{
		UserID:    k.UserID,
		Provider:  k.Provider,
		Purpose:   k.Purpose,
		Value:     value,
		Version:   1,
		UpdatedAt: time.Now().UTC(),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "provider"}, {Name: "purpose"}},
		DoUpdates: clause.Assignments(map[string]any{
			"value":      value,
			"version":    gorm.Expr("mfa_token_records.version + 1"),
			"updated_at": rec.UpdatedAt,
		}),
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return nil
}

// Remove deletes the record. Removing a missing record succeeds.
func (s *GormStore) Remove(ctx context.Context, k Key) error {
	if !k.Valid() {
		return ErrInvalidKey
	}
	if err := s.where(s.db.WithContext(ctx), k).Delete(&Record{}).Error; err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return nil
}

var errVersionMoved = errors.New("token record version moved")

// translate maps a driver error to gorm's portable errors such as
// gorm.ErrDuplicatedKey, whether or not the DB was opened with
// TranslateError.
func (s *GormStore) translate(err error) error {
	if err == nil {
		return nil
	}
	if t, ok := s.db.Dialector.(gorm.ErrorTranslator); ok {
		return t.Translate(err)
	}
	return err
}

// Update runs fn inside a transaction. A concurrent writer that slips past
// the row lock bumps the version, which makes this attempt roll back and
// retry.
func (s *GormStore) Update(ctx context.Context, k Key, fn UpdateFunc) error {
	if !k.Valid() {
		return ErrInvalidKey
	}

	for i := 0; i < gormUpdateRetries; i++ {
		var fnErr error
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var rec Record
			exists := true
			err := s.where(tx.Clauses(clause.Locking{Strength: "UPDATE"}), k).Take(&rec).Error
			if err != nil {
				if !errors.Is(err, gorm.ErrRecordNotFound) {
					return err
				}
				exists = false
			}

			next, op, err := fn(rec.Value, exists)
			if err != nil {
				fnErr = err
				return err
			}

			switch op {
			case OpPut:
				if !exists {
					return tx.Create(&Record{
						UserID:    k.UserID,
						Provider:  k.Provider,
						Purpose:   k.Purpose,
						Value:     next,
						Version:   1,
						UpdatedAt: time.Now().UTC(),
					}).Error
				}
				res := s.where(tx.Model(&Record{}), k).
					Where("version = ?", rec.Version).
					Updates(map[string]any{
						"value":      next,
						"version":    rec.Version + 1,
						"updated_at": time.Now().UTC(),
					})
				if res.Error != nil {
					return res.Error
				}
				if res.RowsAffected == 0 {
					return errVersionMoved
				}
			case OpDelete:
				if !exists {
					return nil
				}
				res := s.where(tx, k).Where("version = ?", rec.Version).Delete(&Record{})
				if res.Error != nil {
					return res.Error
				}
				if res.RowsAffected == 0 {
					return errVersionMoved
				}
			}
			return nil
		})

		if fnErr != nil {
			return fnErr
		}
		if !errors.Is(err, errVersionMoved) {
			err = s.translate(err)
		}
		if errors.Is(err, errVersionMoved) || errors.Is(err, gorm.ErrDuplicatedKey) {
			continue
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrBackend, err)
		}
		return nil
	}

	return ErrConflict
}
