package database

import (
	"fmt"
	"sync"

	"github.com/chatbridge/pkg/config"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var (
	db          *gorm.DB
	err         error
	client_once sync.Once
)

func InitDB(dbc config.Database, log zerolog.Logger) {
	client_once.Do(func() {
		dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable", dbc.Host, dbc.Port, dbc.User, dbc.Pass, dbc.Name)
		db, err = gorm.Open(
			postgres.New(
				postgres.Config{
					DSN:                  dsn,
					PreferSimpleProtocol: true,
				},
			),
			&gorm.Config{
				DisableForeignKeyConstraintWhenMigrating: false,
				// unique violations surface as gorm.ErrDuplicatedKey
				TranslateError: true,
			},
		)
		if err != nil {
			log.Panic().Err(err).Msg("failed to initialize database")
		}

		sqlDB, err := db.DB()
		if err != nil {
			log.Panic().Err(err).Msg("failed to get underlying database connection")
		}

		if err := sqlDB.Ping(); err != nil {
			log.Panic().Err(err).Msg("failed to ping database")
		}

		log.Info().Msg("database connection established")

		if err := AutoMigrate(db); err != nil {
			log.Panic().Err(err).Msg("migration failed")
		}

		log.Info().Msg("database migrations completed")
	})
}

func DBClient() *gorm.DB {
	if db == nil {
		panic("Postgres is not initialized. Call InitDB first.")
	}
	return db
}
