// Package jsonfile contains a lease store persisting leases into a JSON file.
package jsonfile

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"net/netip"
	"os"
	"sync"
	"time"

	"github.com/AdguardTeam/AdGuardDHCP/internal/lease"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/google/renameio/v2/maybe"
)

// databasePerm is the permissions for the database file.
const databasePerm fs.FileMode = 0o640

// Config is the configuration of a JSON file store.
type Config struct {
	// Logger is used for logging the operation of the store.  It must not be
	// nil.
	Logger *slog.Logger

	// Path is the path to the database file.  It must not be empty.
	Path string
}

// Store is a [lease.Store] keeping all leases in memory and rewriting the whole
// file atomically after each change.
type Store struct {
	// index contains the leases.  It's only modified with writeMu locked.
	index *lease.Memory

	// logger is used for logging the operation of the store.
	logger *slog.Logger

	// writeMu serializes modifications and writes.
	writeMu *sync.Mutex

	// path is the path to the database file.
	path string
}

// New returns a new store with the leases loaded from the file, if it exists.
func New(ctx context.Context, conf *Config) (s *Store, err error) {
	s = &Store{
		index:   lease.NewMemory(),
		logger:  conf.Logger,
		writeMu: &sync.Mutex{},
		path:    conf.Path,
	}

	err = s.load(ctx)
	if err != nil {
		// Don't wrap the error since it's informative enough as is.
		return nil, err
	}

	return s, nil
}

// type check
var _ lease.Store = (*Store)(nil)

// load loads stored leases into the index.
func (s *Store) load(ctx context.Context) (err error) {
	defer func() { err = errors.Annotate(err, "loading db: %w") }()

	file, err := os.Open(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("reading db: %w", err)
		}

		s.logger.DebugContext(ctx, "no db file found")

		return nil
	}
	defer func() { err = errors.WithDeferred(err, file.Close()) }()

	dl := &dataLeases{}
	err = json.NewDecoder(file).Decode(dl)
	if err != nil {
		return fmt.Errorf("decoding db: %w", err)
	}

	var loaded int
	for i, stored := range dl.Leases {
		var l *lease.Lease
		l, err = stored.toInternal()
		if err != nil {
			s.logger.WarnContext(ctx, "converting lease", "idx", i, slogutil.KeyError, err)

			continue
		}

		err = s.index.Insert(ctx, l)
		if err != nil {
			s.logger.WarnContext(ctx, "adding lease", "idx", i, slogutil.KeyError, err)

			continue
		}

		loaded++
	}

	s.logger.InfoContext(ctx, "loaded leases", "num", loaded, "total", len(dl.Leases))

	return nil
}

// store writes all to the database file.  s.writeMu is expected to be locked.
func (s *Store) store(ctx context.Context, all []*lease.Lease) (err error) {
	defer func() { err = errors.Annotate(err, "writing db: %w") }()

	dl := &dataLeases{
		// Avoid writing null into the database file if there are no leases.
		Leases:  make([]*dbLease, 0, len(all)),
		Version: dataVersion,
	}

	for _, l := range all {
		dl.Leases = append(dl.Leases, toDBLease(l))
	}

	buf, err := json.Marshal(dl)
	if err != nil {
		// Don't wrap the error since it's informative enough as is.
		return err
	}

	err = maybe.WriteFile(s.path, buf, databasePerm)
	if err != nil {
		// Don't wrap the error since it's informative enough as is.
		return err
	}

	s.logger.DebugContext(ctx, "stored leases", "num", len(dl.Leases), "file", s.path)

	return nil
}

// modify calls f with s.writeMu locked on a copy of the index, writes the
// database file, and only then applies the changes to the index.  The index
// isn't changed if either f or the write fails.
func (s *Store) modify(ctx context.Context, f func(staged *lease.Memory) (err error)) (err error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	staged := lease.NewMemory()
	staged.Replace(s.index.All())

	err = f(staged)
	if err != nil {
		return err
	}

	all := staged.All()
	err = s.store(ctx, all)
	if err != nil {
		// Don't wrap the error since it's informative enough as is.
		return err
	}

	s.index.Replace(all)

	return nil
}

// Insert implements the [lease.Store] interface for *Store.
func (s *Store) Insert(ctx context.Context, l *lease.Lease) (err error) {
	return s.modify(ctx, func(staged *lease.Memory) (err error) {
		return staged.Insert(ctx, l)
	})
}

// Update implements the [lease.Store] interface for *Store.
func (s *Store) Update(ctx context.Context, l *lease.Lease) (err error) {
	return s.modify(ctx, func(staged *lease.Memory) (err error) {
		return staged.Update(ctx, l)
	})
}

// Delete implements the [lease.Store] interface for *Store.
func (s *Store) Delete(ctx context.Context, ip netip.Addr) (err error) {
	return s.modify(ctx, func(staged *lease.Memory) (err error) {
		return staged.Delete(ctx, ip)
	})
}

// FindByIdentity implements the [lease.Store] interface for *Store.
func (s *Store) FindByIdentity(
	ctx context.Context,
	duid []byte,
	t lease.IAType,
	iaid uint32,
) (leases []*lease.Lease, err error) {
	return s.index.FindByIdentity(ctx, duid, t, iaid)
}

// FindByAddress implements the [lease.Store] interface for *Store.
func (s *Store) FindByAddress(ctx context.Context, ip netip.Addr) (l *lease.Lease, err error) {
	return s.index.FindByAddress(ctx, ip)
}

// FindUnused implements the [lease.Store] interface for *Store.
func (s *Store) FindUnused(
	ctx context.Context,
	r lease.Range,
	now time.Time,
) (leases []*lease.Lease, err error) {
	return s.index.FindUnused(ctx, r, now)
}

// FindExpired implements the [lease.Store] interface for *Store.
func (s *Store) FindExpired(
	ctx context.Context,
	t lease.IAType,
	now time.Time,
) (leases []*lease.Lease, err error) {
	return s.index.FindExpired(ctx, t, now)
}

// FindExistingIPs implements the [lease.Store] interface for *Store.
func (s *Store) FindExistingIPs(ctx context.Context, r lease.Range) (ips []netip.Addr, err error) {
	return s.index.FindExistingIPs(ctx, r)
}

// DeleteOutsideRanges implements the [lease.Store] interface for *Store.
func (s *Store) DeleteOutsideRanges(ctx context.Context, ranges []lease.Range) (n int, err error) {
	err = s.modify(ctx, func(staged *lease.Memory) (err error) {
		n, err = staged.DeleteOutsideRanges(ctx, ranges)

		return err
	})

	return n, err
}

// Close implements the [lease.Store] interface for *Store.
func (s *Store) Close() (err error) {
	return nil
}
