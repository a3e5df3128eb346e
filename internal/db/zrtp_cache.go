package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/btafoya/zrtpcore/pkg/zrtp"
)

// ZRTPCacheRepository is a sqlite-backed zrtp.Cache: it persists retained
// secrets per (peer URI, peer ZID) across restarts, the way the teacher's
// other repositories persist per-(resource) state (internal/db/devices.go).
type ZRTPCacheRepository struct {
	db *sql.DB
}

// NewZRTPCacheRepository creates the repository and ensures its table
// exists. Unlike the rest of this package the schema isn't driven through
// the embedded migrations (internal/db/db.go's migrations/ directory does
// not cover this addition), so it is created here on first use instead.
func NewZRTPCacheRepository(db *sql.DB) (*ZRTPCacheRepository, error) {
	r := &ZRTPCacheRepository{db: db}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS zrtp_peer_secrets (
			peer_uri   TEXT NOT NULL,
			peer_zid   TEXT NOT NULL,
			rs1        BLOB,
			rs2        BLOB,
			verified   BOOLEAN NOT NULL DEFAULT 0,
			updated_at DATETIME NOT NULL,
			PRIMARY KEY (peer_uri, peer_zid)
		)
	`); err != nil {
		return nil, fmt.Errorf("create zrtp_peer_secrets table: %w", err)
	}
	return r, nil
}

// GetPeerSecrets implements zrtp.Cache.
func (r *ZRTPCacheRepository) GetPeerSecrets(peerURI string, peerZID zrtp.ZID) (zrtp.PeerSecrets, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var rs1, rs2 []byte
	var verified bool
	err := r.db.QueryRowContext(ctx, `
		SELECT rs1, rs2, verified FROM zrtp_peer_secrets WHERE peer_uri = ? AND peer_zid = ?
	`, peerURI, peerZID.String()).Scan(&rs1, &rs2, &verified)
	if err == sql.ErrNoRows {
		return zrtp.PeerSecrets{}, nil
	}
	if err != nil {
		return zrtp.PeerSecrets{}, fmt.Errorf("get zrtp peer secrets: %w", err)
	}

	return zrtp.PeerSecrets{RS1: rs1, RS2: rs2, PreviouslyVerifiedSAS: verified}, nil
}

// UpdatePeerSecrets implements zrtp.Cache: the previously-stored rs1 rolls
// down into rs2 before the new rs1 is written (spec.md §4.5).
func (r *ZRTPCacheRepository) UpdatePeerSecrets(peerURI string, peerZID zrtp.ZID, newRS1 []byte, verified bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var oldRS1 []byte
	err := r.db.QueryRowContext(ctx, `
		SELECT rs1 FROM zrtp_peer_secrets WHERE peer_uri = ? AND peer_zid = ?
	`, peerURI, peerZID.String()).Scan(&oldRS1)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("read prior zrtp rs1: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO zrtp_peer_secrets (peer_uri, peer_zid, rs1, rs2, verified, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (peer_uri, peer_zid) DO UPDATE SET
			rs1 = excluded.rs1, rs2 = excluded.rs2, verified = excluded.verified, updated_at = excluded.updated_at
	`, peerURI, peerZID.String(), newRS1, oldRS1, verified, time.Now())
	if err != nil {
		return fmt.Errorf("update zrtp peer secrets: %w", err)
	}
	return nil
}

// DeleteExpired removes cache entries older than maxAge, mirroring
// SessionRepository.DeleteExpired's pattern for bounding unbounded growth.
func (r *ZRTPCacheRepository) DeleteExpired(ctx context.Context, maxAge time.Duration) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM zrtp_peer_secrets WHERE updated_at < ?
	`, time.Now().Add(-maxAge))
	if err != nil {
		return 0, fmt.Errorf("delete expired zrtp peer secrets: %w", err)
	}
	return result.RowsAffected()
}
