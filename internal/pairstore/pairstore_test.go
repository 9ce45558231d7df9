package pairstore

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/airtap-go/airplay2/internal/pairing"
)

func TestOpenAndMigrate(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer s.Close()

	dbPath := filepath.Join(dir, "pairings.db")
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Fatal("pairing store database file was not created")
	}

	var journalMode string
	if err := s.db.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		t.Fatalf("querying journal_mode: %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("journal_mode = %q, want wal", journalMode)
	}

	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='pairings'").Scan(&count); err != nil {
		t.Fatalf("checking pairings table: %v", err)
	}
	if count != 1 {
		t.Fatal("pairings table not found")
	}
}

func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open() error: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open() error: %v", err)
	}
	s2.Close()
}

func testIdentity(t *testing.T) pairing.PairingIdentity {
	t.Helper()
	pub, sec, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generating identity keypair: %v", err)
	}
	devicePub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generating device keypair: %v", err)
	}
	return pairing.PairingIdentity{
		Identifier:      "airtap-sender",
		SecretKey:       sec,
		PublicKey:       pub,
		DevicePublicKey: devicePub,
	}
}

func TestSaveLoadRemoveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	const deviceID = "AA:BB:CC:DD:EE:FF"

	if _, ok, err := s.Load(deviceID); err != nil || ok {
		t.Fatalf("Load() on empty store = (_, %v, %v), want (_, false, nil)", ok, err)
	}

	want := testIdentity(t)
	if err := s.Save(ctx, deviceID, want); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	got, ok, err := s.Load(deviceID)
	if err != nil || !ok {
		t.Fatalf("Load() after Save = (_, %v, %v), want (_, true, nil)", ok, err)
	}
	if got.Identifier != want.Identifier {
		t.Errorf("Identifier = %q, want %q", got.Identifier, want.Identifier)
	}
	if string(got.PublicKey) != string(want.PublicKey) {
		t.Error("PublicKey mismatch after round trip")
	}
	if string(got.DevicePublicKey) != string(want.DevicePublicKey) {
		t.Error("DevicePublicKey mismatch after round trip")
	}

	replacement := testIdentity(t)
	if err := s.Save(ctx, deviceID, replacement); err != nil {
		t.Fatalf("Save() (update) error: %v", err)
	}
	got, ok, err = s.Load(deviceID)
	if err != nil || !ok {
		t.Fatalf("Load() after update = (_, %v, %v)", ok, err)
	}
	if string(got.PublicKey) != string(replacement.PublicKey) {
		t.Error("Save() did not overwrite the existing row for the same device")
	}

	if err := s.Remove(ctx, deviceID); err != nil {
		t.Fatalf("Remove() error: %v", err)
	}
	if _, ok, err := s.Load(deviceID); err != nil || ok {
		t.Fatalf("Load() after Remove = (_, %v, %v), want (_, false, nil)", ok, err)
	}
}
