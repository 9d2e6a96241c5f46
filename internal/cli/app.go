package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Shivanand-hulikatti/club-roster/internal/config"
	"github.com/Shivanand-hulikatti/club-roster/internal/database"
	"github.com/Shivanand-hulikatti/club-roster/internal/repository"
	"github.com/Shivanand-hulikatti/club-roster/internal/repository/sqlite"
	"github.com/Shivanand-hulikatti/club-roster/internal/service"
)

// app is the wired service graph shared by every command.
type app struct {
	cfg    config.Config
	log    *slog.Logger
	events *service.EventService
	users  *service.UserService
	close  func()
}

// openApp loads configuration, connects to the configured store and, when
// migrate is set, brings the schema up to date.
func openApp(ctx context.Context, opts *RootOptions, migrate bool) (*app, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log := cfg.Log.NewLogger()
	slog.SetDefault(log)

	var (
		events service.EventStore
		regs   service.RegistrationStore
		users  service.UserStore
		closer func()
	)

	switch cfg.Database.Driver {
	case config.DriverSQLite:
		db, err := database.OpenSQLite(cfg.Database.SQLitePath)
		if err != nil {
			return nil, err
		}
		if migrate {
			if err := database.MigrateSQLite(ctx, db, log); err != nil {
				db.Close()
				return nil, err
			}
		}
		log.Info("connected to sqlite", slog.String("path", cfg.Database.SQLitePath))
		events = sqlite.NewEventRepository(db)
		regs = sqlite.NewRegistrationRepository(db)
		users = sqlite.NewUserRepository(db)
		closer = func() { db.Close() }

	default:
		pool, err := database.NewPool(ctx, cfg.Database, log)
		if err != nil {
			return nil, err
		}
		if migrate {
			if err := database.MigratePostgres(ctx, pool, log); err != nil {
				pool.Close()
				return nil, err
			}
		}
		log.Info("connected to postgres",
			slog.String("host", cfg.Database.Host),
			slog.String("database", cfg.Database.Name),
		)
		events = repository.NewEventRepository(pool)
		regs = repository.NewRegistrationRepository(pool)
		users = repository.NewUserRepository(pool)
		closer = pool.Close
	}

	return &app{
		cfg:    cfg,
		log:    log,
		events: service.NewEventService(events, regs, users, log),
		users:  service.NewUserService(users, log),
		close:  closer,
	}, nil
}
