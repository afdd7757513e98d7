// Package boltdb contains a lease store backed by a bbolt database.
package boltdb

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"net/netip"
	"time"

	"github.com/AdguardTeam/AdGuardDHCP/internal/lease"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"go.etcd.io/bbolt"
)

// Bucket names.
const (
	// bucketLeases stores encoded leases by address.
	bucketLeases = "leases"

	// bucketIdentities is the index of leases by identity association.  The
	// values are empty.
	bucketIdentities = "identities"
)

// databasePerm is the permissions for the database file.
const databasePerm fs.FileMode = 0o640

// openTimeout is the time to wait for the file lock.
const openTimeout = 1 * time.Second

// Config is the configuration of a bbolt store.
type Config struct {
	// Logger is used for logging the operation of the store.  It must not be
	// nil.
	Logger *slog.Logger

	// Path is the path to the database file.  It must not be empty.
	Path string
}

// Store is a [lease.Store] backed by a bbolt database.
type Store struct {
	db     *bbolt.DB
	logger *slog.Logger
}

// New opens the database and creates the buckets, if needed.
func New(ctx context.Context, conf *Config) (s *Store, err error) {
	db, err := bbolt.Open(conf.Path, databasePerm, &bbolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening db %q: %w", conf.Path, err)
	}

	s = &Store{
		db:     db,
		logger: conf.Logger,
	}

	err = s.init(ctx)
	if err != nil {
		return nil, errors.WithDeferred(err, db.Close())
	}

	return s, nil
}

// type check
var _ lease.Store = (*Store)(nil)

// init creates the buckets.
func (s *Store) init(ctx context.Context) (err error) {
	tx, err := s.db.Begin(true)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}

	needRollback := true
	defer func() {
		if needRollback {
			err = errors.WithDeferred(err, tx.Rollback())
		}
	}()

	for _, name := range []string{bucketLeases, bucketIdentities} {
		_, err = tx.CreateBucketIfNotExists([]byte(name))
		if err != nil {
			return fmt.Errorf("creating bucket %q: %w", name, err)
		}
	}

	needRollback = false
	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	n := 0
	err = s.db.View(func(tx *bbolt.Tx) (err error) {
		n = tx.Bucket([]byte(bucketLeases)).Stats().KeyN

		return nil
	})
	if err != nil {
		return fmt.Errorf("counting leases: %w", err)
	}

	s.logger.InfoContext(ctx, "opened lease db", "num", n)

	return nil
}

// buckets returns the buckets of tx.
func buckets(tx *bbolt.Tx) (leases, identities *bbolt.Bucket) {
	return tx.Bucket([]byte(bucketLeases)), tx.Bucket([]byte(bucketIdentities))
}

// Insert implements the [lease.Store] interface for *Store.
func (s *Store) Insert(_ context.Context, l *lease.Lease) (err error) {
	return s.db.Update(func(tx *bbolt.Tx) (err error) {
		leases, identities := buckets(tx)

		k := addrKey(l.IP)
		if leases.Get(k) != nil {
			return lease.ErrDuplicate
		}

		return put(leases, identities, l)
	})
}

// put writes l and its index entry.
func put(leases, identities *bbolt.Bucket, l *lease.Lease) (err error) {
	err = leases.Put(addrKey(l.IP), encodeLease(l))
	if err != nil {
		return fmt.Errorf("putting lease: %w", err)
	}

	err = identities.Put(identityKey(l), []byte{})
	if err != nil {
		return fmt.Errorf("putting identity: %w", err)
	}

	return nil
}

// get reads the lease with the address ip.  l is nil if there is no such
// lease.
func get(leases *bbolt.Bucket, ip netip.Addr) (l *lease.Lease, err error) {
	data := leases.Get(addrKey(ip))
	if data == nil {
		return nil, nil
	}

	return decodeLease(ip, data)
}

// remove deletes l and its index entry.
func remove(leases, identities *bbolt.Bucket, l *lease.Lease) (err error) {
	err = leases.Delete(addrKey(l.IP))
	if err != nil {
		return fmt.Errorf("deleting lease: %w", err)
	}

	err = identities.Delete(identityKey(l))
	if err != nil {
		return fmt.Errorf("deleting identity: %w", err)
	}

	return nil
}

// Update implements the [lease.Store] interface for *Store.
func (s *Store) Update(_ context.Context, l *lease.Lease) (err error) {
	return s.db.Update(func(tx *bbolt.Tx) (err error) {
		leases, identities := buckets(tx)

		prev, err := get(leases, l.IP)
		if err != nil {
			return err
		} else if prev == nil {
			return lease.ErrNotFound
		}

		err = identities.Delete(identityKey(prev))
		if err != nil {
			return fmt.Errorf("deleting identity: %w", err)
		}

		return put(leases, identities, l)
	})
}

// Delete implements the [lease.Store] interface for *Store.
func (s *Store) Delete(_ context.Context, ip netip.Addr) (err error) {
	return s.db.Update(func(tx *bbolt.Tx) (err error) {
		leases, identities := buckets(tx)

		l, err := get(leases, ip)
		if err != nil {
			return err
		} else if l == nil {
			return lease.ErrNotFound
		}

		return remove(leases, identities, l)
	})
}

// FindByIdentity implements the [lease.Store] interface for *Store.
func (s *Store) FindByIdentity(
	_ context.Context,
	duid []byte,
	t lease.IAType,
	iaid uint32,
) (found []*lease.Lease, err error) {
	prefix := identityPrefix(duid, t, iaid)
	err = s.db.View(func(tx *bbolt.Tx) (err error) {
		leases, identities := buckets(tx)

		c := identities.Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			if len(k) != len(prefix)+16 {
				// A longer DUID with the same prefix.
				continue
			}

			var ip netip.Addr
			ip, err = keyAddr(k[len(prefix):])
			if err != nil {
				return err
			}

			var l *lease.Lease
			l, err = get(leases, ip)
			if err != nil {
				return err
			} else if l != nil {
				found = append(found, l)
			}
		}

		return nil
	})

	return found, err
}

// FindByAddress implements the [lease.Store] interface for *Store.
func (s *Store) FindByAddress(_ context.Context, ip netip.Addr) (l *lease.Lease, err error) {
	err = s.db.View(func(tx *bbolt.Tx) (err error) {
		leases, _ := buckets(tx)
		l, err = get(leases, ip)

		return err
	})

	return l, err
}

// scanRange calls f for each lease within r in the order of addresses.
func (s *Store) scanRange(r lease.Range, f func(l *lease.Lease)) (err error) {
	start, end := addrKey(r.Start), addrKey(r.End)

	return s.db.View(func(tx *bbolt.Tx) (err error) {
		leases, _ := buckets(tx)

		c := leases.Cursor()
		for k, v := c.Seek(start); k != nil && bytes.Compare(k, end) <= 0; k, v = c.Next() {
			var ip netip.Addr
			ip, err = keyAddr(k)
			if err != nil {
				return err
			}

			var l *lease.Lease
			l, err = decodeLease(ip, v)
			if err != nil {
				return fmt.Errorf("lease %s: %w", ip, err)
			}

			f(l)
		}

		return nil
	})
}

// FindUnused implements the [lease.Store] interface for *Store.
func (s *Store) FindUnused(
	_ context.Context,
	r lease.Range,
	now time.Time,
) (found []*lease.Lease, err error) {
	err = s.scanRange(r, func(l *lease.Lease) {
		if l.IsUnused(now) {
			found = append(found, l)
		}
	})
	if err != nil {
		return nil, err
	}

	lease.SortUnused(found)

	return found, nil
}

// FindExpired implements the [lease.Store] interface for *Store.
func (s *Store) FindExpired(
	_ context.Context,
	t lease.IAType,
	now time.Time,
) (found []*lease.Lease, err error) {
	err = s.forEach(func(l *lease.Lease) {
		if l.IAType == t && lease.IsExpiredAt(l, now) {
			found = append(found, l)
		}
	})

	return found, err
}

// forEach calls f for each stored lease in the order of addresses.
func (s *Store) forEach(f func(l *lease.Lease)) (err error) {
	return s.db.View(func(tx *bbolt.Tx) (err error) {
		leases, _ := buckets(tx)

		return leases.ForEach(func(k, v []byte) (err error) {
			ip, err := keyAddr(k)
			if err != nil {
				return err
			}

			l, err := decodeLease(ip, v)
			if err != nil {
				return fmt.Errorf("lease %s: %w", ip, err)
			}

			f(l)

			return nil
		})
	})
}

// FindExistingIPs implements the [lease.Store] interface for *Store.
func (s *Store) FindExistingIPs(_ context.Context, r lease.Range) (ips []netip.Addr, err error) {
	err = s.scanRange(r, func(l *lease.Lease) { ips = append(ips, l.IP) })

	return ips, err
}

// DeleteOutsideRanges implements the [lease.Store] interface for *Store.
func (s *Store) DeleteOutsideRanges(
	ctx context.Context,
	ranges []lease.Range,
) (n int, err error) {
	err = s.db.Update(func(tx *bbolt.Tx) (err error) {
		leases, identities := buckets(tx)

		var outside []*lease.Lease
		err = leases.ForEach(func(k, v []byte) (err error) {
			ip, err := keyAddr(k)
			if err != nil {
				return err
			}

			if lease.WithinAny(ip, ranges) {
				return nil
			}

			l, err := decodeLease(ip, v)
			if err != nil {
				s.logger.WarnContext(ctx, "decoding lease", "ip", ip, slogutil.KeyError, err)
				l = &lease.Lease{IP: ip}
			}

			outside = append(outside, l)

			return nil
		})
		if err != nil {
			return err
		}

		for _, l := range outside {
			err = remove(leases, identities, l)
			if err != nil {
				return err
			}
		}

		n = len(outside)

		return nil
	})

	return n, err
}

// Close implements the [lease.Store] interface for *Store.
func (s *Store) Close() (err error) {
	return s.db.Close()
}
