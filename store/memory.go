package store

import (
	"sort"
	"sync"
)

// MemoryStore implements Store without a database. Default backend for
// tests and single-process runs.
type MemoryStore struct {
	limits Limits

	mu       sync.Mutex
	accounts map[string]*Participant
	auctions map[string]*Auction
	subs     map[string][]string // item key -> buyer names
	lastSeq  uint64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(limits Limits) *MemoryStore {
	return &MemoryStore{
		limits:   limits,
		accounts: make(map[string]*Participant),
		auctions: make(map[string]*Auction),
		subs:     make(map[string][]string),
	}
}

func (s *MemoryStore) Accounts() AccountDirectory       { return (*memoryAccounts)(s) }
func (s *MemoryStore) Auctions() AuctionCatalog         { return (*memoryAuctions)(s) }
func (s *MemoryStore) Subscriptions() SubscriptionIndex { return (*memorySubs)(s) }
func (s *MemoryStore) Sequence() SequenceCounter        { return (*memorySeq)(s) }

func (s *MemoryStore) Close() error { return nil }

type memoryAccounts MemoryStore

func (s *memoryAccounts) Get(name string) (*Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.accounts[key(name)]
	if !ok {
		return nil, ErrAccountNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *memoryAccounts) Put(p *Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.accounts) >= s.limits.MaxAccounts {
		return ErrCapacityReached
	}
	k := key(p.Name)
	if _, exists := s.accounts[k]; exists {
		return ErrDuplicateName
	}
	cp := *p
	s.accounts[k] = &cp
	return nil
}

func (s *memoryAccounts) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(name)
	if _, exists := s.accounts[k]; !exists {
		return ErrAccountNotFound
	}
	delete(s.accounts, k)
	return nil
}

func (s *memoryAccounts) All() ([]*Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Participant, 0, len(s.accounts))
	for _, p := range s.accounts {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

type memoryAuctions MemoryStore

func (s *memoryAuctions) Get(item string) (*Auction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.auctions[key(item)]
	if !ok {
		return nil, ErrItemNotFound
	}
	return a.Clone(), nil
}

func (s *memoryAuctions) Put(a *Auction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.auctions) >= s.limits.MaxItems {
		return ErrItemLimitReached
	}
	k := key(a.Item)
	if _, exists := s.auctions[k]; exists {
		return ErrDuplicateItem
	}
	s.auctions[k] = a.Clone()
	return nil
}

func (s *memoryAuctions) Update(item string, fn func(*Auction) error) (*Auction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(item)
	a, ok := s.auctions[k]
	if !ok {
		return nil, ErrItemNotFound
	}
	next := a.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	s.auctions[k] = next
	return next.Clone(), nil
}

func (s *memoryAuctions) Remove(item string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(item)
	if _, exists := s.auctions[k]; !exists {
		return ErrItemNotFound
	}
	delete(s.auctions, k)
	return nil
}

func (s *memoryAuctions) All() ([]*Auction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Auction, 0, len(s.auctions))
	for _, a := range s.auctions {
		out = append(out, a.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Item < out[j].Item })
	return out, nil
}

type memorySubs MemoryStore

func (s *memorySubs) Add(item, buyer string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(item)
	for _, b := range s.subs[k] {
		if key(b) == key(buyer) {
			return ErrAlreadySubscribed
		}
	}
	s.subs[k] = append(s.subs[k], buyer)
	return nil
}

func (s *memorySubs) Remove(item, buyer string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(item)
	for i, b := range s.subs[k] {
		if key(b) == key(buyer) {
			s.subs[k] = append(s.subs[k][:i], s.subs[k][i+1:]...)
			return nil
		}
	}
	return ErrNotSubscribed
}

func (s *memorySubs) IsSubscribed(item, buyer string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, b := range s.subs[key(item)] {
		if key(b) == key(buyer) {
			return true, nil
		}
	}
	return false, nil
}

func (s *memorySubs) Subscribers(item string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	src := s.subs[key(item)]
	out := make([]string, len(src))
	copy(out, src)
	return out, nil
}

type memorySeq MemoryStore

func (s *memorySeq) Next() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastSeq++
	return s.lastSeq, nil
}
