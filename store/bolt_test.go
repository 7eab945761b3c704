package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestBoltStore(t *testing.T) *BoltStore {
	t.Helper()

	s, err := NewBoltStore(filepath.Join(t.TempDir(), "bidwire.db"), DefaultLimits())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBolt_AccountRoundTrip(t *testing.T) {
	s := newTestBoltStore(t)

	require.NoError(t, s.Accounts().Put(testParticipant("Alice", RoleBuyer)))
	require.ErrorIs(t, s.Accounts().Put(testParticipant("ALICE", RoleBuyer)), ErrDuplicateName)

	got, err := s.Accounts().Get("alice")
	require.NoError(t, err)
	require.Equal(t, "Alice", got.Name)
	require.Equal(t, RoleBuyer, got.Role)

	require.NoError(t, s.Accounts().Remove("alice"))
	_, err = s.Accounts().Get("alice")
	require.ErrorIs(t, err, ErrAccountNotFound)
}

func TestBolt_AuctionUpdateAtomic(t *testing.T) {
	s := newTestBoltStore(t)

	require.NoError(t, s.Auctions().Put(NewAuction("chair", "bob", "oak", 10, time.Minute, 1)))

	errAbort := errors.New("abort")
	_, err := s.Auctions().Update("chair", func(a *Auction) error {
		a.CurrentPrice = 50
		return errAbort
	})
	require.ErrorIs(t, err, errAbort)

	got, err := s.Auctions().Get("chair")
	require.NoError(t, err)
	require.Equal(t, 10.0, got.CurrentPrice)

	updated, err := s.Auctions().Update("chair", func(a *Auction) error {
		a.PlaceBid("carol", 12)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, "carol", updated.HighestBidder)
}

func TestBolt_SequenceSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bidwire.db")

	s, err := NewBoltStore(path, DefaultLimits())
	require.NoError(t, err)

	first, err := s.Sequence().Next()
	require.NoError(t, err)
	second, err := s.Sequence().Next()
	require.NoError(t, err)
	require.Equal(t, first+1, second)
	require.NoError(t, s.Close())

	// A clean restart reads the checkpoint back and keeps counting.
	s, err = NewBoltStore(path, DefaultLimits())
	require.NoError(t, err)
	defer s.Close()

	third, err := s.Sequence().Next()
	require.NoError(t, err)
	require.Equal(t, second+1, third)
}

func TestBolt_SubscriptionsPersist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bidwire.db")

	s, err := NewBoltStore(path, DefaultLimits())
	require.NoError(t, err)
	require.NoError(t, s.Subscriptions().Add("chair", "carol"))
	require.NoError(t, s.Close())

	s, err = NewBoltStore(path, DefaultLimits())
	require.NoError(t, err)
	defer s.Close()

	subs, err := s.Subscriptions().Subscribers("chair")
	require.NoError(t, err)
	require.Equal(t, []string{"carol"}, subs)
}
