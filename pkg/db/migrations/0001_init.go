package migrations

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

func init() {
	goose.AddMigrationContext(upInit, downInit)
}

type Lpar struct {
	ID        uuid.UUID         `gorm:"type:uuid;primaryKey"`
	Lpar      string            `gorm:"type:text;not null"`
	Hostname  string            `gorm:"type:text;uniqueIndex;not null"`
	Dataset   string            `gorm:"type:text;not null"`
	Username  string            `gorm:"type:text;not null"`
	Enabled   bool              `gorm:"not null;default:true"`
	Schedule  *string           `gorm:"type:text"`
	Meta      datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt time.Time         `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
	UpdatedAt time.Time         `gorm:"type:timestamptz;not null;default:now();autoUpdateTime"`
}

func (Lpar) TableName() string { return "lpars" }

type VaultKey struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Username   string    `gorm:"type:text;uniqueIndex;not null"`
	PrivateKey string    `gorm:"type:text;not null"`
	PublicKey  string    `gorm:"type:text"`
	CreatedAt  time.Time `gorm:"type:timestamptz;not null;default:now();autoCreateTime"`
}

func (VaultKey) TableName() string { return "vault" }

type RawResult struct {
	ID            int64   `gorm:"type:bigserial;primaryKey"`
	Sysname       string  `gorm:"type:text;index"`
	LogDataset    string  `gorm:"type:text;index"`
	ShutdownBegin *string `gorm:"type:text"`
	ShutdownEnd   *string `gorm:"type:text"`
	IplBegin      *string `gorm:"type:text"`
	IplEnd        *string `gorm:"type:text"`
	PreIpl        *string `gorm:"type:text"`
	PosIpl        *string `gorm:"type:text"`
	LastIpl       *string `gorm:"type:text"`
}

func (RawResult) TableName() string { return "raw_results" }

type ResultDone struct {
	ID               int64  `gorm:"type:bigserial;primaryKey"`
	Sysname          string `gorm:"type:text;uniqueIndex:ux_results_done"`
	IplDate          string `gorm:"type:text;uniqueIndex:ux_results_done"`
	LogDataset       string `gorm:"type:text;uniqueIndex:ux_results_done"`
	ShutdownBegin    string `gorm:"type:text;uniqueIndex:ux_results_done"`
	ShutdownEnd      string `gorm:"type:text;uniqueIndex:ux_results_done"`
	IplBegin         string `gorm:"type:text;uniqueIndex:ux_results_done"`
	IplEnd           string `gorm:"type:text;uniqueIndex:ux_results_done"`
	PreIpl           string `gorm:"type:text;uniqueIndex:ux_results_done"`
	PosIpl           string `gorm:"type:text;uniqueIndex:ux_results_done"`
	ShutdownDuration string `gorm:"type:text;uniqueIndex:ux_results_done"`
	PoweroffDuration string `gorm:"type:text;uniqueIndex:ux_results_done"`
	LoadDuration     string `gorm:"type:text;uniqueIndex:ux_results_done"`
	TotalDuration    string `gorm:"type:text;uniqueIndex:ux_results_done"`
}

func (ResultDone) TableName() string { return "results_done" }

type ResultFail struct {
	ID            int64  `gorm:"type:bigserial;primaryKey"`
	Sysname       string `gorm:"type:text;uniqueIndex:ux_results_fail"`
	LogDataset    string `gorm:"type:text;uniqueIndex:ux_results_fail"`
	ShutdownBegin string `gorm:"type:text;uniqueIndex:ux_results_fail"`
	ShutdownEnd   string `gorm:"type:text;uniqueIndex:ux_results_fail"`
	IplBegin      string `gorm:"type:text;uniqueIndex:ux_results_fail"`
	IplEnd        string `gorm:"type:text;uniqueIndex:ux_results_fail"`
	PreIpl        string `gorm:"type:text;uniqueIndex:ux_results_fail"`
	PosIpl        string `gorm:"type:text;uniqueIndex:ux_results_fail"`
}

func (ResultFail) TableName() string { return "results_fail" }

type ResultGarb struct {
	ID            int64  `gorm:"type:bigserial;primaryKey"`
	Sysname       string `gorm:"type:text;uniqueIndex:ux_results_garb"`
	LogDataset    string `gorm:"type:text;uniqueIndex:ux_results_garb"`
	ShutdownBegin string `gorm:"type:text;uniqueIndex:ux_results_garb"`
	ShutdownEnd   string `gorm:"type:text;uniqueIndex:ux_results_garb"`
	IplBegin      string `gorm:"type:text;uniqueIndex:ux_results_garb"`
	IplEnd        string `gorm:"type:text;uniqueIndex:ux_results_garb"`
	PreIpl        string `gorm:"type:text;uniqueIndex:ux_results_garb"`
	PosIpl        string `gorm:"type:text;uniqueIndex:ux_results_garb"`
}

func (ResultGarb) TableName() string { return "results_garb" }

type ResultLastIpl struct {
	ID         int64  `gorm:"type:bigserial;primaryKey"`
	Sysname    string `gorm:"type:text;uniqueIndex:ux_results_last_ipl"`
	LogDataset string `gorm:"type:text"`
	LastIpl    string `gorm:"type:text;uniqueIndex:ux_results_last_ipl"`
}

func (ResultLastIpl) TableName() string { return "results_last_ipl" }

func upInit(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: tx, PreferSimpleProtocol: true}), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{SingularTable: false},
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return err
	}

	return gormDB.WithContext(ctx).AutoMigrate(
		&Lpar{},
		&VaultKey{},
		&RawResult{},
		&ResultDone{},
		&ResultFail{},
		&ResultGarb{},
		&ResultLastIpl{},
	)
}

func downInit(ctx context.Context, tx *sql.Tx) error {
	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: tx, PreferSimpleProtocol: true}), &gorm.Config{
		NamingStrategy: schema.NamingStrategy{SingularTable: false},
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return err
	}

	return gormDB.WithContext(ctx).Migrator().DropTable(
		&ResultLastIpl{},
		&ResultGarb{},
		&ResultFail{},
		&ResultDone{},
		&RawResult{},
		&VaultKey{},
		&Lpar{},
	)
}
