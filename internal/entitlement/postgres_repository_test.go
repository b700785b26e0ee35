package entitlement

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/chainpass/checkout/internal/config"
)

func TestApplyPoolLimits(t *testing.T) {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "pool.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	applyPoolLimits(db, config.DatabaseConfig{
		MaxOpenConns:    7,
		MaxIdleConns:    2,
		ConnMaxLifetime: config.Duration{Duration: time.Minute},
	})

	if got := db.Stats().MaxOpenConnections; got != 7 {
		t.Errorf("max open connections = %d, want 7", got)
	}
}

func TestApplyPoolLimitsZeroValuesKeepDefaults(t *testing.T) {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "pool.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	applyPoolLimits(db, config.DatabaseConfig{})

	// database/sql reports 0 for "unlimited".
	if got := db.Stats().MaxOpenConnections; got != 0 {
		t.Errorf("max open connections = %d, want driver default 0", got)
	}
}
