package bootstrap

import (
	"github.com/coachai/coach-backend/internal/persona"
	"github.com/coachai/coach-backend/internal/session"
	"github.com/coachai/coach-backend/internal/transcript"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

func ProvideSessionStore(redisClient *redis.Client) *session.Store {
	return session.NewStore(redisClient)
}

func ProvideTranscriptStore(db *gorm.DB) *transcript.Store {
	return transcript.NewStore(db)
}

func ProvideCatalog(cfg *Config) (*persona.Catalog, error) {
	if cfg.ScenariosFile != "" {
		return persona.LoadCatalogFile(cfg.ScenariosFile)
	}
	return persona.NewCatalog()
}

func RunMigrations(transcripts *transcript.Store) error {
	return transcripts.Migrate()
}

var StoresModule = fx.Options(
	fx.Provide(
		ProvideSessionStore,
		ProvideTranscriptStore,
		ProvideCatalog,
	),
	fx.Invoke(RunMigrations),
)
