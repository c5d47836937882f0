// ABOUTME: Optional end-to-end encryption for the bot account
// ABOUTME: Wires a mautrix cryptohelper backed by a go-sqlite3 database

package matrix

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/blake2b"
	"maunium.net/go/mautrix/crypto/cryptohelper"
)

// CryptoConfig enables encryption when DBPath is set.
type CryptoConfig struct {
	DBPath      string
	PickleKey   string
	RecoveryKey string
}

// Crypto owns the crypto helper attached to a Client.
type Crypto struct {
	helper *cryptohelper.CryptoHelper
}

// EnableCrypto attaches a crypto helper to the client. A store left behind
// by a different device ID is removed first, since the helper refuses to
// load it.
func (c *Client) EnableCrypto(ctx context.Context, cfg CryptoConfig) (*Crypto, error) {
	if cfg.DBPath == "" {
		return nil, errors.New("crypto database path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o700); err != nil {
		return nil, fmt.Errorf("creating crypto directory: %w", err)
	}

	stale, err := deviceMismatch(cfg.DBPath, c.mx.DeviceID.String())
	if err != nil {
		c.logger.Debug("could not read stored device ID", "error", err)
	} else if stale {
		c.logger.Warn("crypto store belongs to another device, resetting", "db", cfg.DBPath)
		for _, suffix := range []string{"", "-wal", "-shm"} {
			if err := os.Remove(cfg.DBPath + suffix); err != nil && !os.IsNotExist(err) {
				return nil, fmt.Errorf("removing stale crypto store: %w", err)
			}
		}
	}

	helper, err := cryptohelper.NewCryptoHelper(c.mx, pickleKey(cfg.PickleKey, c.mx.UserID.String()), cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("creating crypto helper: %w", err)
	}
	if err := helper.Init(ctx); err != nil {
		return nil, fmt.Errorf("initializing crypto helper: %w", err)
	}
	c.mx.Crypto = helper

	if cfg.RecoveryKey != "" {
		if err := helper.Machine().VerifyWithRecoveryKey(ctx, cfg.RecoveryKey); err != nil {
			c.logger.Warn("recovery key verification failed, continuing without cross-signing", "error", err)
		} else {
			c.logger.Info("device verified with recovery key")
		}
	}

	c.logger.Info("encryption enabled", "db", cfg.DBPath, "device", c.mx.DeviceID.String())
	return &Crypto{helper: helper}, nil
}

// Close releases the crypto store.
func (cr *Crypto) Close() error {
	if cr == nil || cr.helper == nil {
		return nil
	}
	return cr.helper.Close()
}

// pickleKey returns the configured key, or one derived from the user ID.
func pickleKey(configured, userID string) []byte {
	if configured != "" {
		return []byte(configured)
	}
	sum := blake2b.Sum256([]byte("servant-bot-crypto:" + userID))
	return sum[:]
}

func deviceMismatch(dbPath, deviceID string) (bool, error) {
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return false, nil
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return false, err
	}
	defer db.Close()

	var stored string
	err = db.QueryRow("SELECT device_id FROM crypto_account LIMIT 1").Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return stored != deviceID, nil
}
