// Package pairstore persists [pairing.PairingIdentity] records across
// reconnects, so a device already paired once can skip straight to
// pair-verify (spec.md §4.2 policy step 2) instead of repeating full SRP
// pair-setup.
package pairstore

import (
	"context"
	"crypto/ed25519"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/airtap-go/airplay2/internal/pairing"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite-backed *sql.DB holding one row per paired
// accessory, keyed by device ID (the AirPlay device's advertised
// deviceid/MAC).
type Store struct {
	db *sql.DB
}

// Open creates or opens a SQLite database at dataDir/pairings.db in WAL
// mode and runs any pending migrations.
func Open(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0750); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "pairings.db")
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(on)", dbPath)

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening pairing store: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("pinging pairing store: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	s := &Store{db: sqlDB}
	if err := s.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("running pairing store migrations: %w", err)
	}

	slog.Info("pairing store opened", "path", dbPath)
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		applied_at DATETIME DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		version := strings.TrimSuffix(entry.Name(), ".sql")

		var count int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", version).Scan(&count); err != nil {
			return fmt.Errorf("checking migration %s: %w", version, err)
		}
		if count > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile(filepath.Join("migrations", entry.Name()))
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", version, err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %s: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("executing migration %s: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %s: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %s: %w", version, err)
		}

		slog.Info("applied pairing store migration", "version", version)
	}
	return nil
}

// Load implements pairing.Store, returning the identity saved for
// deviceID, if any.
func (s *Store) Load(deviceID string) (pairing.PairingIdentity, bool, error) {
	var identifier string
	var secretKey, publicKey, devicePublicKey []byte

	err := s.db.QueryRow(
		`SELECT identifier, secret_key, public_key, device_public_key FROM pairings WHERE device_id = ?`,
		deviceID,
	).Scan(&identifier, &secretKey, &publicKey, &devicePublicKey)
	if err == sql.ErrNoRows {
		return pairing.PairingIdentity{}, false, nil
	}
	if err != nil {
		return pairing.PairingIdentity{}, false, fmt.Errorf("loading pairing identity for %q: %w", deviceID, err)
	}

	return pairing.PairingIdentity{
		Identifier:      identifier,
		SecretKey:       ed25519.PrivateKey(secretKey),
		PublicKey:       ed25519.PublicKey(publicKey),
		DevicePublicKey: ed25519.PublicKey(devicePublicKey),
	}, true, nil
}

// Save persists (or replaces) the pairing identity for deviceID, called
// after a successful non-transient pair-setup completes M6.
func (s *Store) Save(ctx context.Context, deviceID string, identity pairing.PairingIdentity) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pairings (device_id, identifier, secret_key, public_key, device_public_key, updated_at)
		 VALUES (?, ?, ?, ?, ?, datetime('now'))
		 ON CONFLICT(device_id) DO UPDATE SET
			identifier = excluded.identifier,
			secret_key = excluded.secret_key,
			public_key = excluded.public_key,
			device_public_key = excluded.device_public_key,
			updated_at = excluded.updated_at`,
		deviceID, identity.Identifier, []byte(identity.SecretKey), []byte(identity.PublicKey), []byte(identity.DevicePublicKey),
	)
	if err != nil {
		return fmt.Errorf("saving pairing identity for %q: %w", deviceID, err)
	}
	return nil
}

// Remove deletes any stored identity for deviceID, forcing the next
// connection attempt back through full pair-setup.
func (s *Store) Remove(ctx context.Context, deviceID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM pairings WHERE device_id = ?`, deviceID); err != nil {
		return fmt.Errorf("removing pairing identity for %q: %w", deviceID, err)
	}
	return nil
}
