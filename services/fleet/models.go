package fleet

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Target models one LPAR reachable over SSH. The core holds read-only
// snapshots of these rows for the duration of a run.
type Target struct {
	ID        uuid.UUID         `gorm:"type:uuid;primaryKey" json:"id"`
	Lpar      string            `gorm:"type:text;not null" json:"lpar"`
	Hostname  string            `gorm:"type:text;uniqueIndex;not null" json:"hostname"`
	Dataset   string            `gorm:"type:text;not null" json:"dataset"`
	Username  string            `gorm:"type:text;not null" json:"username"`
	Enabled   bool              `gorm:"not null;default:true" json:"enabled"`
	Schedule  *string           `gorm:"type:text" json:"schedule"`
	Meta      datatypes.JSONMap `gorm:"type:jsonb" json:"meta"`
	CreatedAt time.Time         `gorm:"type:timestamptz;not null;default:now();autoCreateTime" json:"created_at"`
	UpdatedAt time.Time         `gorm:"type:timestamptz;not null;default:now();autoUpdateTime" json:"updated_at"`
}

func (Target) TableName() string { return "lpars" }

type vaultKeyModel struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Username   string    `gorm:"type:text;uniqueIndex;not null"`
	PrivateKey string    `gorm:"type:text;not null"`
	PublicKey  string    `gorm:"type:text"`
	CreatedAt  time.Time `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
}

func (vaultKeyModel) TableName() string { return "vault" }
