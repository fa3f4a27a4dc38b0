package main

import (
	"context"
	"database/sql"

	"github.com/sirupsen/logrus"

	"qrtrace/internal/config"
	"qrtrace/internal/lock"
	"qrtrace/internal/store"
	"qrtrace/internal/traceability"
)

func initDB(path string) (*sql.DB, error) {
	db, err := store.Open(path)
	if err != nil {
		return nil, err
	}
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM station_keys WHERE enabled=1").Scan(&n); err == nil && n == 0 {
		logrus.Warn("no station keys configured; run `qrtrace create-key <name>` to issue one")
	}
	return db, nil
}

// newLocker returns a Redis-backed lock when an address is configured and
// falls back to an in-process lock otherwise.
func newLocker(ctx context.Context, cfg config.Config) (traceability.Locker, func()) {
	if cfg.RedisAddr == "" {
		return lock.NewLocalLocker(), func() {}
	}
	rl, err := lock.NewRedisLocker(ctx, cfg.RedisAddr, cfg.LockTTL, cfg.LockWait)
	if err != nil {
		logrus.Warnf("redis unavailable, using in-process document lock: %v", err)
		return lock.NewLocalLocker(), func() {}
	}
	logrus.WithField("addr", cfg.RedisAddr).Info("using redis document lock")
	return rl, func() {
		if err := rl.Close(); err != nil {
			logrus.Warnf("close redis: %v", err)
		}
	}
}
