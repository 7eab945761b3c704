package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketAccounts      = []byte("accounts")
	bucketAuctions      = []byte("auctions")
	bucketSubscriptions = []byte("subscriptions")
	bucketMeta          = []byte("meta")

	keyLastSeq = []byte("last_rq")
)

// BoltStore implements Store on a single bbolt file. Records are stored as
// JSON under their case-folded name; the sequence counter lives in the meta
// bucket and is written inside the same transaction that allocates it.
type BoltStore struct {
	db     *bolt.DB
	limits Limits
}

// NewBoltStore opens (or creates) the database file and its buckets.
func NewBoltStore(path string, limits Limits) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening bolt database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketAccounts, bucketAuctions, bucketSubscriptions, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltStore{db: db, limits: limits}, nil
}

func (s *BoltStore) Accounts() AccountDirectory       { return (*boltAccounts)(s) }
func (s *BoltStore) Auctions() AuctionCatalog         { return (*boltAuctions)(s) }
func (s *BoltStore) Subscriptions() SubscriptionIndex { return (*boltSubs)(s) }
func (s *BoltStore) Sequence() SequenceCounter        { return (*boltSeq)(s) }

// Close closes the underlying database file.
func (s *BoltStore) Close() error { return s.db.Close() }

type boltAccounts BoltStore

func (s *boltAccounts) Get(name string) (*Participant, error) {
	var p *Participant
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketAccounts).Get([]byte(key(name)))
		if raw == nil {
			return ErrAccountNotFound
		}
		p = new(Participant)
		return json.Unmarshal(raw, p)
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *boltAccounts) Put(p *Participant) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAccounts)
		if b.Stats().KeyN >= s.limits.MaxAccounts {
			return ErrCapacityReached
		}
		k := []byte(key(p.Name))
		if b.Get(k) != nil {
			return ErrDuplicateName
		}
		raw, err := json.Marshal(p)
		if err != nil {
			return err
		}
		return b.Put(k, raw)
	})
}

func (s *boltAccounts) Remove(name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAccounts)
		k := []byte(key(name))
		if b.Get(k) == nil {
			return ErrAccountNotFound
		}
		return b.Delete(k)
	})
}

func (s *boltAccounts) All() ([]*Participant, error) {
	var out []*Participant
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAccounts).ForEach(func(_, raw []byte) error {
			p := new(Participant)
			if err := json.Unmarshal(raw, p); err != nil {
				return err
			}
			out = append(out, p)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

type boltAuctions BoltStore

func (s *boltAuctions) Get(item string) (*Auction, error) {
	var a *Auction
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketAuctions).Get([]byte(key(item)))
		if raw == nil {
			return ErrItemNotFound
		}
		a = new(Auction)
		return json.Unmarshal(raw, a)
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (s *boltAuctions) Put(a *Auction) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAuctions)
		if b.Stats().KeyN >= s.limits.MaxItems {
			return ErrItemLimitReached
		}
		k := []byte(key(a.Item))
		if b.Get(k) != nil {
			return ErrDuplicateItem
		}
		raw, err := json.Marshal(a)
		if err != nil {
			return err
		}
		return b.Put(k, raw)
	})
}

func (s *boltAuctions) Update(item string, fn func(*Auction) error) (*Auction, error) {
	var out *Auction
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAuctions)
		k := []byte(key(item))
		raw := b.Get(k)
		if raw == nil {
			return ErrItemNotFound
		}
		a := new(Auction)
		if err := json.Unmarshal(raw, a); err != nil {
			return err
		}
		if err := fn(a); err != nil {
			return err
		}
		next, err := json.Marshal(a)
		if err != nil {
			return err
		}
		if err := b.Put(k, next); err != nil {
			return err
		}
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *boltAuctions) Remove(item string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAuctions)
		k := []byte(key(item))
		if b.Get(k) == nil {
			return ErrItemNotFound
		}
		return b.Delete(k)
	})
}

func (s *boltAuctions) All() ([]*Auction, error) {
	var out []*Auction
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAuctions).ForEach(func(_, raw []byte) error {
			a := new(Auction)
			if err := json.Unmarshal(raw, a); err != nil {
				return err
			}
			out = append(out, a)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

type boltSubs BoltStore

func (s *boltSubs) load(tx *bolt.Tx, item string) ([]string, error) {
	raw := tx.Bucket(bucketSubscriptions).Get([]byte(key(item)))
	if raw == nil {
		return nil, nil
	}
	var buyers []string
	if err := json.Unmarshal(raw, &buyers); err != nil {
		return nil, err
	}
	return buyers, nil
}

func (s *boltSubs) save(tx *bolt.Tx, item string, buyers []string) error {
	raw, err := json.Marshal(buyers)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketSubscriptions).Put([]byte(key(item)), raw)
}

func (s *boltSubs) Add(item, buyer string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		buyers, err := s.load(tx, item)
		if err != nil {
			return err
		}
		for _, b := range buyers {
			if key(b) == key(buyer) {
				return ErrAlreadySubscribed
			}
		}
		return s.save(tx, item, append(buyers, buyer))
	})
}

func (s *boltSubs) Remove(item, buyer string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		buyers, err := s.load(tx, item)
		if err != nil {
			return err
		}
		for i, b := range buyers {
			if key(b) == key(buyer) {
				return s.save(tx, item, append(buyers[:i], buyers[i+1:]...))
			}
		}
		return ErrNotSubscribed
	})
}

func (s *boltSubs) IsSubscribed(item, buyer string) (bool, error) {
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		buyers, err := s.load(tx, item)
		if err != nil {
			return err
		}
		for _, b := range buyers {
			if key(b) == key(buyer) {
				found = true
				return nil
			}
		}
		return nil
	})
	return found, err
}

func (s *boltSubs) Subscribers(item string) ([]string, error) {
	var buyers []string
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		buyers, err = s.load(tx, item)
		return err
	})
	if err != nil {
		return nil, err
	}
	return buyers, nil
}

type boltSeq BoltStore

func (s *boltSeq) Next() (uint64, error) {
	var next uint64
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMeta)
		if raw := b.Get(keyLastSeq); raw != nil {
			next = binary.BigEndian.Uint64(raw)
		}
		next++
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], next)
		return b.Put(keyLastSeq, buf[:])
	})
	if err != nil {
		return 0, err
	}
	return next, nil
}
