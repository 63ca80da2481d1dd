package userstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goMFA "github.com/MrEthical07/goMFA"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrDuplicateUser is returned by Create when the username is taken.
var ErrDuplicateUser = errors.New("userstore: username already exists")

// Repository stores users through GORM. It satisfies goMFA.UserRepository.
type Repository struct {
	db *gorm.DB
}

var _ goMFA.UserRepository = (*Repository)(nil)

// New wraps db.
func New(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// AutoMigrate creates the user table. Intended for tests and local demos.
func (r *Repository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&User{})
}

// Create inserts rec and returns it with a generated ID when rec.ID is
// empty.
func (r *Repository) Create(ctx context.Context, rec goMFA.UserRecord) (goMFA.UserRecord, error) {
	if strings.TrimSpace(rec.Username) == "" || rec.PasswordHash == "" {
		return goMFA.UserRecord{}, goMFA.ErrInvalidInput
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	row := fromRecord(rec)
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return goMFA.UserRecord{}, ErrDuplicateUser
		}
		return goMFA.UserRecord{}, fmt.Errorf("userstore: create: %w", err)
	}
	return row.record(), nil
}

// FindByID returns goMFA.ErrUserNotFound for an unknown id.
func (r *Repository) FindByID(ctx context.Context, userID string) (goMFA.UserRecord, error) {
	var row User
	if err := r.db.WithContext(ctx).Where("id = ?", userID).Take(&row).Error; err != nil {
		return goMFA.UserRecord{}, mapFindErr(err)
	}
	return row.record(), nil
}

// FindByName matches the identifier against username or email, ignoring
// case.
func (r *Repository) FindByName(ctx context.Context, identifier string) (goMFA.UserRecord, error) {
	name := strings.ToLower(strings.TrimSpace(identifier))
	if name == "" {
		return goMFA.UserRecord{}, goMFA.ErrUserNotFound
	}
	var row User
	err := r.db.WithContext(ctx).
		Where("LOWER(username) = ? OR LOWER(email) = ?", name, name).
		Order("created_at").
		Take(&row).Error
	if err != nil {
		return goMFA.UserRecord{}, mapFindErr(err)
	}
	return row.record(), nil
}

// Update overwrites every stored field of user.
func (r *Repository) Update(ctx context.Context, user goMFA.UserRecord) error {
	row := fromRecord(user)
	return r.update(ctx, user.ID, map[string]any{
		"username":                 row.Username,
		"email":                    row.Email,
		"password_hash":            row.PasswordHash,
		"two_factor_enabled":       row.TwoFactorEnabled,
		"email_two_factor_enabled": row.EmailTwoFactorEnabled,
		"lockout_end":              row.LockoutEnd,
		"last_login_at":            row.LastLoginAt,
	})
}

// SetLockoutEnd stores end; a zero end clears the lockout.
func (r *Repository) SetLockoutEnd(ctx context.Context, userID string, end time.Time) error {
	return r.update(ctx, userID, map[string]any{"lockout_end": timePtr(end)})
}

func (r *Repository) SetLastLogin(ctx context.Context, userID string, at time.Time) error {
	return r.update(ctx, userID, map[string]any{"last_login_at": timePtr(at)})
}

func (r *Repository) SetTwoFactorEnabled(ctx context.Context, userID string, enabled bool) error {
	return r.update(ctx, userID, map[string]any{"two_factor_enabled": enabled})
}

func (r *Repository) SetEmailTwoFactorEnabled(ctx context.Context, userID string, enabled bool) error {
	return r.update(ctx, userID, map[string]any{"email_two_factor_enabled": enabled})
}

func (r *Repository) update(ctx context.Context, userID string, values map[string]any) error {
	if userID == "" {
		return goMFA.ErrInvalidInput
	}
	res := r.db.WithContext(ctx).Model(&User{}).Where("id = ?", userID).Updates(values)
	if res.Error != nil {
		return fmt.Errorf("userstore: update: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return goMFA.ErrUserNotFound
	}
	return nil
}

func mapFindErr(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return goMFA.ErrUserNotFound
	}
	return fmt.Errorf("userstore: find: %w", err)
}
