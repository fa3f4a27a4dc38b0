package main

import (
	"database/sql"
	"fmt"
	"io"

	"qrtrace/internal/audit"
	"qrtrace/internal/auth"
	"qrtrace/internal/config"
)

// runKeyCommand executes a station key subcommand. Keys are managed from the
// server host only; the HTTP API has no key endpoints. It reports whether
// args named a key subcommand.
func runKeyCommand(db *sql.DB, args config.Args, out io.Writer) (bool, error) {
	switch {
	case args.CreateKey != nil:
		key, err := auth.CreateStationKey(db, args.CreateKey.Name)
		if err != nil {
			return true, fmt.Errorf("create station key: %w", err)
		}
		audit.LogAudit(db, nil, "system", audit.ActionCreate, audit.ModuleStation, key[:12],
			"Created station key for "+args.CreateKey.Name)
		fmt.Fprintf(out, "Station key for %q (shown once):\n%s\n", args.CreateKey.Name, key)
		return true, nil

	case args.ListKeys != nil:
		keys, err := auth.ListStationKeys(db)
		if err != nil {
			return true, fmt.Errorf("list station keys: %w", err)
		}
		for _, k := range keys {
			state := "enabled"
			if !k.Enabled {
				state = "revoked"
			}
			lastUsed := "never"
			if k.LastUsed != nil {
				lastUsed = *k.LastUsed
			}
			fmt.Fprintf(out, "%d\t%s\t%s...\t%s\tlast used %s\n", k.ID, k.Name, k.KeyPrefix, state, lastUsed)
		}
		return true, nil

	case args.RevokeKey != nil:
		if err := auth.SetStationKeyEnabled(db, args.RevokeKey.ID, false); err != nil {
			return true, fmt.Errorf("revoke station key %d: %w", args.RevokeKey.ID, err)
		}
		audit.LogAudit(db, nil, "system", audit.ActionUpdate, audit.ModuleStation, fmt.Sprint(args.RevokeKey.ID), "Revoked station key")
		fmt.Fprintf(out, "Station key %d revoked\n", args.RevokeKey.ID)
		return true, nil
	}
	return false, nil
}
