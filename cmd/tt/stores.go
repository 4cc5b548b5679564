package main

import (
	"fmt"

	"github.com/zulandar/tramtram/internal/config"
	"github.com/zulandar/tramtram/internal/db"
	"github.com/zulandar/tramtram/internal/store"
	"github.com/zulandar/tramtram/internal/telegraph"
)

// openStore builds the store selected by sc. SQL stores are migrated
// before use.
func openStore(sc config.StoreConfig, env *config.Env, cfg *config.Config) (telegraph.Store, error) {
	switch sc.Driver {
	case "file":
		fs, err := store.NewFileStore(sc.Path, cfg.StopTTL())
		if err != nil {
			return nil, err
		}
		return fs, nil
	case db.DriverSQLite, db.DriverMySQL:
		gormDB, err := db.Open(sc.Driver, storeDSN(sc, env))
		if err != nil {
			return nil, err
		}
		if err := db.AutoMigrate(gormDB); err != nil {
			return nil, err
		}
		ds, err := store.NewDBStore(gormDB, cfg.StopTTL())
		if err != nil {
			return nil, err
		}
		return ds, nil
	default:
		return nil, fmt.Errorf("unsupported store driver %q", sc.Driver)
	}
}

// storeDSN resolves the connection string: the sqlite path, an explicit
// mysql DSN from config or environment, or one built from host fields.
func storeDSN(sc config.StoreConfig, env *config.Env) string {
	if sc.Driver == db.DriverSQLite {
		return sc.Path
	}
	if sc.DSN != "" {
		return sc.DSN
	}
	if env != nil && env.MySQLDSN != "" {
		return env.MySQLDSN
	}
	return db.DSN(sc.User, sc.Host, sc.Port, sc.Database)
}
