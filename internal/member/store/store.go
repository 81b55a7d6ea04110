// Package store persists a member view's group to pebble so a restarted member can
// find its peers again without a seed list.
package store

import (
	"github.com/arya-analytics/rbc/internal/address"
	"github.com/arya-analytics/rbc/internal/digest"
	"github.com/arya-analytics/rbc/internal/member"
	"github.com/arya-analytics/rbc/internal/signing"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"go.uber.org/zap"
	"google.golang.org/protobuf/encoding/protowire"
)

var keyPrefix = []byte("rbc/members/")

type Config struct {
	// FS is the filesystem pebble stores its files on. Defaults to the OS filesystem.
	FS     vfs.FS
	Logger *zap.Logger
}

func (cfg Config) Merge(def Config) Config {
	if cfg.FS == nil {
		cfg.FS = def.FS
	}
	if cfg.Logger == nil {
		cfg.Logger = def.Logger
	}
	return cfg
}

func DefaultConfig() Config { return Config{FS: vfs.Default, Logger: zap.NewNop()} }

type Store struct {
	Config
	db *pebble.DB
}

func Open(dirname string, cfg Config) (*Store, error) {
	cfg = cfg.Merge(DefaultConfig())
	db, err := pebble.Open(dirname, &pebble.Options{FS: cfg.FS})
	if err != nil {
		return nil, errors.Wrapf(err, "[store] - failed to open %s", dirname)
	}
	return &Store{Config: cfg, db: db}, nil
}

// Flush replaces the stored group for the given context with g.
func (s *Store) Flush(ctx digest.Digest, g member.Group) error {
	lower, upper := bounds(ctx)
	b := s.db.NewBatch()
	if err := b.DeleteRange(lower, upper, nil); err != nil {
		return errors.Wrap(err, "[store] - failed to clear members")
	}
	for id, m := range g {
		if err := b.Set(key(ctx, id), encode(m), nil); err != nil {
			return errors.Wrap(err, "[store] - failed to stage member")
		}
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return errors.Wrap(err, "[store] - failed to flush members")
	}
	s.Logger.Debug("flushed members", zap.String("context", ctx.Short()), zap.Int("count", len(g)))
	return nil
}

// Load reads the stored group for the given context. An empty group is returned if
// nothing was flushed.
func (s *Store) Load(ctx digest.Digest) (member.Group, error) {
	lower, upper := bounds(ctx)
	iter := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	g := make(member.Group)
	for iter.First(); iter.Valid(); iter.Next() {
		m, err := decode(iter.Value())
		if err != nil {
			_ = iter.Close()
			return nil, err
		}
		g[m.ID] = m
	}
	return g, errors.Wrap(iter.Close(), "[store] - failed to close iterator")
}

func (s *Store) Close() error { return s.db.Close() }

func key(ctx digest.Digest, id member.ID) []byte {
	k := make([]byte, 0, len(keyPrefix)+2*digest.Size)
	k = append(k, keyPrefix...)
	k = append(k, ctx[:]...)
	return append(k, id[:]...)
}

func bounds(ctx digest.Digest) (lower, upper []byte) {
	lower = append(append([]byte{}, keyPrefix...), ctx[:]...)
	upper = append([]byte{}, lower...)
	for i := len(upper) - 1; i >= 0; i-- {
		upper[i]++
		if upper[i] != 0 {
			return lower, upper[:i+1]
		}
	}
	return lower, nil
}

const (
	fieldID        protowire.Number = 1
	fieldAddress   protowire.Number = 2
	fieldPublicKey protowire.Number = 3
)

func encode(m member.Member) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldID, protowire.BytesType)
	b = protowire.AppendBytes(b, m.ID[:])
	b = protowire.AppendTag(b, fieldAddress, protowire.BytesType)
	b = protowire.AppendString(b, m.Address.String())
	b = protowire.AppendTag(b, fieldPublicKey, protowire.BytesType)
	return protowire.AppendBytes(b, m.PublicKey[:])
}

func decode(b []byte) (m member.Member, err error) {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return m, errors.Wrap(protowire.ParseError(n), "[store] - corrupt member")
		}
		b = b[n:]
		if typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return m, errors.Wrap(protowire.ParseError(n), "[store] - corrupt member")
			}
			b = b[n:]
			continue
		}
		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return m, errors.Wrap(protowire.ParseError(n), "[store] - corrupt member")
		}
		b = b[n:]
		switch num {
		case fieldID:
			if m.ID, err = digest.FromBytes(v); err != nil {
				return m, err
			}
		case fieldAddress:
			m.Address = address.Address(v)
		case fieldPublicKey:
			if m.PublicKey, err = signing.PublicKeyFromBytes(v); err != nil {
				return m, err
			}
		}
	}
	return m, nil
}
