// Package certstore persists issued certificate records. It is the long-term
// owner of certificate material; the provisioning core only holds key
// material in memory while a request is in flight.
package certstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("certificate not found")

// Record is one issued certificate, CA or host.
type Record struct {
	ID        uuid.UUID
	Name      string
	CertType  string // "ca" or "host"
	IPAddress string // CIDR, empty for CAs
	Groups    []string
	IsCA      bool
	CertPEM   string
	KeyPEM    string
	CreatedBy string
	ExpiresAt time.Time
	CreatedAt time.Time
	Revoked   bool
	RevokedAt *time.Time
}

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Save inserts a new certificate record and returns it with its generated ID.
func (s *Store) Save(ctx context.Context, rec Record) (Record, error) {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO certificates
			(id, name, cert_type, ip_address, groups, is_ca, cert_pem, key_pem,
			 created_by, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		rec.ID, rec.Name, rec.CertType, rec.IPAddress, rec.Groups, rec.IsCA,
		rec.CertPEM, rec.KeyPEM, rec.CreatedBy, rec.ExpiresAt, rec.CreatedAt)
	if err != nil {
		return Record{}, fmt.Errorf("failed to save certificate %q: %w", rec.Name, err)
	}
	return rec, nil
}

// FindByName returns the newest non-revoked record with the given name.
func (s *Store) FindByName(ctx context.Context, name string) (Record, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, cert_type, ip_address, groups, is_ca, cert_pem, key_pem,
		       created_by, expires_at, created_at, revoked, revoked_at
		FROM certificates
		WHERE name = $1 AND NOT revoked
		ORDER BY created_at DESC
		LIMIT 1`, name)

	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, fmt.Errorf("%w: %q", ErrNotFound, name)
		}
		return Record{}, fmt.Errorf("failed to look up certificate %q: %w", name, err)
	}
	return rec, nil
}

// FindCA returns the CA record with the given name.
func (s *Store) FindCA(ctx context.Context, name string) (Record, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, cert_type, ip_address, groups, is_ca, cert_pem, key_pem,
		       created_by, expires_at, created_at, revoked, revoked_at
		FROM certificates
		WHERE name = $1 AND is_ca AND NOT revoked
		LIMIT 1`, name)

	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, fmt.Errorf("%w: ca %q", ErrNotFound, name)
		}
		return Record{}, fmt.Errorf("failed to look up ca %q: %w", name, err)
	}
	return rec, nil
}

// ListAddressesByPrefix returns the issued CIDR addresses beginning with
// prefix, e.g. "192.168.100.". Revoked certificates still occupy their
// address until they expire, so they are included.
func (s *Store) ListAddressesByPrefix(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT ip_address FROM certificates
		WHERE ip_address LIKE $1 || '%'`, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list addresses: %w", err)
	}
	defer rows.Close()

	var addrs []string
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			return nil, err
		}
		if addr != "" {
			addrs = append(addrs, addr)
		}
	}
	return addrs, rows.Err()
}

// ListCAs returns every non-revoked CA record.
func (s *Store) ListCAs(ctx context.Context) ([]Record, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, cert_type, ip_address, groups, is_ca, cert_pem, key_pem,
		       created_by, expires_at, created_at, revoked, revoked_at
		FROM certificates
		WHERE is_ca AND NOT revoked
		ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list cas: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Revoke marks a certificate revoked. Revocation is the only mutation a
// signed certificate record allows.
func (s *Store) Revoke(ctx context.Context, name string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE certificates
		SET revoked = TRUE, revoked_at = NOW()
		WHERE name = $1 AND NOT revoked`, name)
	if err != nil {
		return fmt.Errorf("failed to revoke certificate %q: %w", name, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRecord(row scannable) (Record, error) {
	var rec Record
	err := row.Scan(&rec.ID, &rec.Name, &rec.CertType, &rec.IPAddress, &rec.Groups,
		&rec.IsCA, &rec.CertPEM, &rec.KeyPEM, &rec.CreatedBy, &rec.ExpiresAt,
		&rec.CreatedAt, &rec.Revoked, &rec.RevokedAt)
	return rec, err
}
