package fleet

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrKeyNotFound is returned when the vault holds no private key for a user.
var ErrKeyNotFound = errors.New("fleet: no vault key for user")

// Repo provides read access to the LPAR registry and the key vault.
type Repo struct {
	orm *gorm.DB
}

// NewRepo creates a Repo bound to the provided GORM session.
func NewRepo(orm *gorm.DB) (*Repo, error) {
	if orm == nil {
		return nil, errors.New("orm is required")
	}
	return &Repo{orm: orm}, nil
}

// ByIDs returns the targets matching the given identifiers. Unknown IDs are
// silently skipped; the caller decides whether an empty result is an error.
func (r *Repo) ByIDs(ctx context.Context, ids []uuid.UUID) ([]Target, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var targets []Target
	err := r.orm.WithContext(ctx).Where("id IN ?", ids).Find(&targets).Error
	return targets, err
}

// ByID returns a single target or gorm.ErrRecordNotFound.
func (r *Repo) ByID(ctx context.Context, id uuid.UUID) (Target, error) {
	var target Target
	err := r.orm.WithContext(ctx).Where("id = ?", id).First(&target).Error
	return target, err
}

// Enabled returns every target whose enabled flag is set.
func (r *Repo) Enabled(ctx context.Context) ([]Target, error) {
	var targets []Target
	err := r.orm.WithContext(ctx).Where("enabled = ?", true).Find(&targets).Error
	return targets, err
}

// PrivateKey returns the vault private key material for the given username.
func (r *Repo) PrivateKey(ctx context.Context, username string) (string, error) {
	var key vaultKeyModel
	err := r.orm.WithContext(ctx).Where("username = ?", username).First(&key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrKeyNotFound
	}
	if err != nil {
		return "", err
	}
	return key.PrivateKey, nil
}
