package core

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/roulettebot/feeds"
	"github.com/web3guy0/roulettebot/risk"
	"github.com/web3guy0/roulettebot/strategy"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	deps := Deps{
		Authority: &fakeAuthority{},
		NewFeed: func(feeds.Config, feeds.CredentialSource, zerolog.Logger) Feed {
			return newFakeFeed()
		},
	}
	base := testConfig(risk.ModeLive)
	tokens := func(account string) (string, error) {
		if account == "ghost" {
			return "", errors.New("no token for ghost")
		}
		return "token-" + account, nil
	}

	r := NewRegistry(base, deps, tokens)
	t.Cleanup(r.StopAll)
	return r
}

func TestRegistryStartStopSnapshot(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.Start(ctx, "alice", strategy.DefaultStakeTable()))
	assert.ErrorIs(t, r.Start(ctx, "alice", strategy.DefaultStakeTable()), ErrAlreadyRunning)

	snap, err := r.Snapshot("alice")
	require.NoError(t, err)
	assert.True(t, snap.Running)
	assert.Equal(t, "alice", snap.Account)

	require.NoError(t, r.Stop("alice"))
	require.NoError(t, r.Stop("alice"))

	snap, err = r.Snapshot("alice")
	require.NoError(t, err)
	assert.False(t, snap.Running)
	assert.True(t, snap.Session.Issued)
}

func TestRegistryUnknownAccount(t *testing.T) {
	r := newTestRegistry(t)

	assert.ErrorIs(t, r.Stop("bob"), ErrUnknownAccount)
	assert.ErrorIs(t, r.Reset("bob"), ErrUnknownAccount)
	_, err := r.Snapshot("bob")
	assert.ErrorIs(t, err, ErrUnknownAccount)
	assert.ErrorIs(t, r.Remove("bob"), ErrUnknownAccount)
}

func TestRegistryTokenLookupFailure(t *testing.T) {
	r := newTestRegistry(t)
	err := r.Start(context.Background(), "ghost", strategy.DefaultStakeTable())
	require.Error(t, err)
	assert.Empty(t, r.Accounts())
}

func TestRegistryRestartUsesNewStakes(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.Start(ctx, "alice", strategy.DefaultStakeTable()))
	require.NoError(t, r.Stop("alice"))

	base := strategy.DefaultStakeTable()
	doubled, err := strategy.NewStakeTable(base[:], decimal.NewFromInt(2))
	require.NoError(t, err)

	require.NoError(t, r.Start(ctx, "alice", doubled))
	snap, err := r.Snapshot("alice")
	require.NoError(t, err)
	assert.True(t, snap.Running)
	assert.True(t, snap.Stakes[0].Equal(decimal.RequireFromString("3.00")))
}

func TestRegistryAccountsAreIndependent(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, r.Start(ctx, "alice", strategy.DefaultStakeTable()))
	require.NoError(t, r.Start(ctx, "bob", strategy.DefaultStakeTable()))
	assert.Equal(t, []string{"alice", "bob"}, r.Accounts())

	require.NoError(t, r.Stop("alice"))
	bob, err := r.Snapshot("bob")
	require.NoError(t, err)
	assert.True(t, bob.Running)

	require.NoError(t, r.Remove("alice"))
	assert.Equal(t, []string{"bob"}, r.Accounts())

	r.StopAll()
	bob, err = r.Snapshot("bob")
	require.NoError(t, err)
	assert.False(t, bob.Running)
}
