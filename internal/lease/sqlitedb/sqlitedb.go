// Package sqlitedb contains a lease store backed by an SQLite database.
package sqlitedb

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/AdguardTeam/AdGuardDHCP/internal/lease"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/mattn/go-sqlite3"
)

// pragmas are executed on each opened database.
var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA busy_timeout=5000",
}

// schema creates the lease table and its identity index.
const schema = `
CREATE TABLE IF NOT EXISTS dhcp_lease (
	ip BLOB NOT NULL PRIMARY KEY,
	duid BLOB NOT NULL,
	iatype INTEGER NOT NULL,
	iaid INTEGER NOT NULL,
	prefix_len INTEGER NOT NULL,
	state INTEGER NOT NULL,
	start_time INTEGER NOT NULL,
	preferred_end_time INTEGER NOT NULL,
	valid_end_time INTEGER NOT NULL,
	fqdn TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_dhcp_lease_identity ON dhcp_lease(duid, iatype, iaid);
`

// columns is the list of lease columns in the order scanned by [scanLease].
const columns = `ip, duid, iatype, iaid, prefix_len, state, start_time, ` +
	`preferred_end_time, valid_end_time, fqdn`

// dirPerm is the permissions for the directory of the database file.
const dirPerm os.FileMode = 0o750

// Config is the configuration of an SQLite store.
type Config struct {
	// Logger is used for logging the operation of the store.  It must not be
	// nil.
	Logger *slog.Logger

	// Path is the path to the database file.  It must not be empty.
	Path string
}

// Store is a [lease.Store] backed by an SQLite database.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// New opens the database and creates the schema, if needed.
func New(ctx context.Context, conf *Config) (s *Store, err error) {
	err = os.MkdirAll(filepath.Dir(conf.Path), dirPerm)
	if err != nil {
		return nil, fmt.Errorf("creating db dir: %w", err)
	}

	db, err := sql.Open("sqlite3", conf.Path)
	if err != nil {
		return nil, fmt.Errorf("opening db %q: %w", conf.Path, err)
	}

	defer func() {
		if err != nil {
			err = errors.WithDeferred(err, db.Close())
		}
	}()

	for _, p := range pragmas {
		_, err = db.ExecContext(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("pragma %q: %w", p, err)
		}
	}

	_, err = db.ExecContext(ctx, schema)
	if err != nil {
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	var n int
	err = db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dhcp_lease`).Scan(&n)
	if err != nil {
		return nil, fmt.Errorf("counting leases: %w", err)
	}

	conf.Logger.InfoContext(ctx, "opened lease db", "num", n)

	return &Store{
		db:     db,
		logger: conf.Logger,
	}, nil
}

// type check
var _ lease.Store = (*Store)(nil)

// addrKey returns the stored form of ip.  IPv4 addresses are mapped, so that
// the keys of a range compare as the addresses do.
func addrKey(ip netip.Addr) (k []byte) {
	a := ip.As16()

	return a[:]
}

// timeToNano returns the stored form of t.  Zero time is stored as 0.
func timeToNano(t time.Time) (n int64) {
	if t.IsZero() {
		return 0
	}

	return t.UnixNano()
}

// nanoToTime parses the stored form of a time value.
func nanoToTime(n int64) (t time.Time) {
	if n == 0 {
		return time.Time{}
	}

	return time.Unix(0, n).UTC()
}

// leaseArgs returns the column values of l in the order of [columns].
func leaseArgs(l *lease.Lease) (args []any) {
	duid := l.DUID
	if duid == nil {
		duid = []byte{}
	}

	return []any{
		addrKey(l.IP),
		duid,
		int64(l.IAType),
		int64(l.IAID),
		int64(l.PrefixLen),
		int64(l.State),
		timeToNano(l.StartTime),
		timeToNano(l.PreferredEndTime),
		timeToNano(l.ValidEndTime),
		l.FQDN,
	}
}

// rowScanner is the common interface of [*sql.Row] and [*sql.Rows].
type rowScanner interface {
	Scan(dest ...any) (err error)
}

// scanLease reads a lease from the current row.
func scanLease(r rowScanner) (l *lease.Lease, err error) {
	var (
		ip                           []byte
		duid                         []byte
		iaType, iaid, prefLen, state int64
		start, preferred, valid      int64
		fqdn                         string
	)

	err = r.Scan(&ip, &duid, &iaType, &iaid, &prefLen, &state, &start, &preferred, &valid, &fqdn)
	if err != nil {
		return nil, err
	}

	if len(ip) != 16 {
		return nil, fmt.Errorf("bad ip length %d", len(ip))
	}

	return &lease.Lease{
		IP:               netip.AddrFrom16([16]byte(ip)).Unmap(),
		StartTime:        nanoToTime(start),
		PreferredEndTime: nanoToTime(preferred),
		ValidEndTime:     nanoToTime(valid),
		DUID:             duid,
		FQDN:             fqdn,
		IAID:             uint32(iaid),
		PrefixLen:        uint8(prefLen),
		IAType:           lease.IAType(iaType),
		State:            lease.State(state),
	}, nil
}

// query returns the leases selected by the where clause.
func (s *Store) query(ctx context.Context, where string, args ...any) (leases []*lease.Lease, err error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+columns+` FROM dhcp_lease `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("querying leases: %w", err)
	}
	defer func() { err = errors.WithDeferred(err, rows.Close()) }()

	for rows.Next() {
		var l *lease.Lease
		l, err = scanLease(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning lease: %w", err)
		}

		leases = append(leases, l)
	}

	return leases, rows.Err()
}

// isConstraintErr returns true if err is an SQLite constraint violation.
func isConstraintErr(err error) (ok bool) {
	var sqlErr sqlite3.Error
	if !errors.As(err, &sqlErr) {
		return false
	}

	return sqlErr.Code == sqlite3.ErrConstraint
}

// Insert implements the [lease.Store] interface for *Store.
func (s *Store) Insert(ctx context.Context, l *lease.Lease) (err error) {
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO dhcp_lease (`+columns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		leaseArgs(l)...,
	)
	if isConstraintErr(err) {
		return lease.ErrDuplicate
	} else if err != nil {
		return fmt.Errorf("inserting lease: %w", err)
	}

	return nil
}

// checkAffected returns [lease.ErrNotFound] if res affected no rows.
func checkAffected(res sql.Result) (err error) {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting affected rows: %w", err)
	} else if n == 0 {
		return lease.ErrNotFound
	}

	return nil
}

// Update implements the [lease.Store] interface for *Store.
func (s *Store) Update(ctx context.Context, l *lease.Lease) (err error) {
	args := leaseArgs(l)
	res, err := s.db.ExecContext(ctx, `
		UPDATE dhcp_lease SET
			duid = ?,
			iatype = ?,
			iaid = ?,
			prefix_len = ?,
			state = ?,
			start_time = ?,
			preferred_end_time = ?,
			valid_end_time = ?,
			fqdn = ?
		WHERE ip = ?`,
		append(args[1:], args[0])...,
	)
	if err != nil {
		return fmt.Errorf("updating lease: %w", err)
	}

	return checkAffected(res)
}

// Delete implements the [lease.Store] interface for *Store.
func (s *Store) Delete(ctx context.Context, ip netip.Addr) (err error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM dhcp_lease WHERE ip = ?`, addrKey(ip))
	if err != nil {
		return fmt.Errorf("deleting lease: %w", err)
	}

	return checkAffected(res)
}

// FindByIdentity implements the [lease.Store] interface for *Store.
func (s *Store) FindByIdentity(
	ctx context.Context,
	duid []byte,
	t lease.IAType,
	iaid uint32,
) (leases []*lease.Lease, err error) {
	if duid == nil {
		duid = []byte{}
	}

	return s.query(
		ctx,
		`WHERE duid = ? AND iatype = ? AND iaid = ? ORDER BY ip`,
		duid,
		int64(t),
		int64(iaid),
	)
}

// FindByAddress implements the [lease.Store] interface for *Store.
func (s *Store) FindByAddress(ctx context.Context, ip netip.Addr) (l *lease.Lease, err error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+columns+` FROM dhcp_lease WHERE ip = ?`,
		addrKey(ip),
	)

	l, err = scanLease(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("finding lease: %w", err)
	}

	return l, nil
}

// FindUnused implements the [lease.Store] interface for *Store.
func (s *Store) FindUnused(
	ctx context.Context,
	r lease.Range,
	now time.Time,
) (found []*lease.Lease, err error) {
	leases, err := s.query(
		ctx,
		`WHERE ip BETWEEN ? AND ? AND state IN (?, ?, ?, ?)`,
		addrKey(r.Start),
		addrKey(r.End),
		int64(lease.StateAdvertised),
		int64(lease.StateExpired),
		int64(lease.StateReleased),
		int64(lease.StateDeclined),
	)
	if err != nil {
		return nil, err
	}

	for _, l := range leases {
		if l.IsUnused(now) {
			found = append(found, l)
		}
	}

	lease.SortUnused(found)

	return found, nil
}

// FindExpired implements the [lease.Store] interface for *Store.
func (s *Store) FindExpired(
	ctx context.Context,
	t lease.IAType,
	now time.Time,
) (leases []*lease.Lease, err error) {
	return s.query(
		ctx,
		`WHERE iatype = ? AND state IN (?, ?, ?) AND valid_end_time <= ? ORDER BY ip`,
		int64(t),
		int64(lease.StateCommitted),
		int64(lease.StateAdvertised),
		int64(lease.StateDeclined),
		now.UnixNano(),
	)
}

// FindExistingIPs implements the [lease.Store] interface for *Store.
func (s *Store) FindExistingIPs(ctx context.Context, r lease.Range) (ips []netip.Addr, err error) {
	leases, err := s.query(
		ctx,
		`WHERE ip BETWEEN ? AND ? ORDER BY ip`,
		addrKey(r.Start),
		addrKey(r.End),
	)
	if err != nil {
		return nil, err
	}

	for _, l := range leases {
		ips = append(ips, l.IP)
	}

	return ips, nil
}

// DeleteOutsideRanges implements the [lease.Store] interface for *Store.
func (s *Store) DeleteOutsideRanges(
	ctx context.Context,
	ranges []lease.Range,
) (n int, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("starting transaction: %w", err)
	}

	needRollback := true
	defer func() {
		if needRollback {
			err = errors.WithDeferred(err, tx.Rollback())
		}
	}()

	outside, err := selectOutside(ctx, tx, ranges)
	if err != nil {
		return 0, err
	}

	for _, k := range outside {
		_, err = tx.ExecContext(ctx, `DELETE FROM dhcp_lease WHERE ip = ?`, k)
		if err != nil {
			return 0, fmt.Errorf("deleting lease: %w", err)
		}
	}

	needRollback = false
	err = tx.Commit()
	if err != nil {
		return 0, fmt.Errorf("committing transaction: %w", err)
	}

	return len(outside), nil
}

// selectOutside returns the keys of the leases which addresses aren't within
// any of ranges.
func selectOutside(ctx context.Context, tx *sql.Tx, ranges []lease.Range) (keys [][]byte, err error) {
	var where string
	var args []any
	if len(ranges) > 0 {
		conds := make([]string, 0, len(ranges))
		for _, r := range ranges {
			conds = append(conds, `ip BETWEEN ? AND ?`)
			args = append(args, addrKey(r.Start), addrKey(r.End))
		}

		where = ` WHERE NOT (` + strings.Join(conds, ` OR `) + `)`
	}

	rows, err := tx.QueryContext(ctx, `SELECT ip FROM dhcp_lease`+where, args...)
	if err != nil {
		return nil, fmt.Errorf("querying leases: %w", err)
	}
	defer func() { err = errors.WithDeferred(err, rows.Close()) }()

	for rows.Next() {
		var k []byte
		err = rows.Scan(&k)
		if err != nil {
			return nil, fmt.Errorf("scanning ip: %w", err)
		}

		keys = append(keys, k)
	}

	return keys, rows.Err()
}

// Close implements the [lease.Store] interface for *Store.
func (s *Store) Close() (err error) {
	return s.db.Close()
}
