package hub

import (
	"context"
	"testing"
	"time"

	"github.com/DoyleJ11/battle-sync/internal/battle"
	"github.com/DoyleJ11/battle-sync/internal/history"
	"github.com/DoyleJ11/battle-sync/internal/qte"
	"github.com/DoyleJ11/battle-sync/pkg/types"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHub(t *testing.T) (*Hub, *history.Memory) {
	t.Helper()
	ledger := history.NewMemory()
	h := NewHub(context.Background(), battle.Options{
		Clock:  clockwork.NewFakeClockAt(time.UnixMilli(1000)),
		Ledger: ledger,
	})
	t.Cleanup(func() { h.Inbox() <- ShutdownHub{} })
	return h, ledger
}

func TestHub_Create_Get_SamePointer(t *testing.T) {
	h, _ := newTestHub(t)
	reply := make(chan *battle.Battle, 1)

	h.Inbox() <- CreateBattle{Code: "ZED123", Reply: reply}
	b1 := <-reply

	h.Inbox() <- GetBattle{Code: "ZED123", Reply: reply}
	b2 := <-reply

	if b1 == nil || b2 == nil || b1 != b2 {
		t.Fatalf("expected same battle pointer")
	}
	assert.Equal(t, "ZED123", b1.ID())
	assert.Equal(t, 1, h.Live())
}

func TestHub_CreateTakenCodeReturnsNil(t *testing.T) {
	h, _ := newTestHub(t)
	ctx := context.Background()

	require.NotNil(t, h.Create(ctx, "ABC"))
	assert.Nil(t, h.Create(ctx, "ABC"))
}

func TestHub_EnsureReusesExisting(t *testing.T) {
	h, _ := newTestHub(t)
	reply := make(chan *battle.Battle, 1)

	h.Inbox() <- EnsureBattle{Code: "X", Reply: reply}
	b1 := <-reply
	h.Inbox() <- EnsureBattle{Code: "X", Reply: reply}
	b2 := <-reply

	require.NotNil(t, b1)
	assert.Same(t, b1, b2)
}

func TestHub_RemoveEndsBattle(t *testing.T) {
	h, ledger := newTestHub(t)
	ctx := context.Background()

	b := h.Create(ctx, "ABC")
	require.NotNil(t, b)
	_, err := b.OpenQTE(ctx, qte.Spec{Responders: []types.Responder{{PlayerID: "p1", UnitID: "u1"}}})
	require.NoError(t, err)

	assert.True(t, h.Remove(ctx, "ABC", "victory"))
	assert.Nil(t, h.Get(ctx, "ABC"))
	assert.Equal(t, 0, h.Live())

	select {
	case <-b.Done():
	case <-time.After(time.Second):
		t.Fatal("battle still running after remove")
	}

	stored, err := ledger.List(ctx, "ABC")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.True(t, stored[0].Cancelled)

	assert.False(t, h.Remove(ctx, "ABC", "again"))
}

func TestHub_ShutdownStopsBattles(t *testing.T) {
	h := NewHub(context.Background(), battle.Options{})
	b := h.Create(context.Background(), "ABC")
	require.NotNil(t, b)

	h.Inbox() <- ShutdownHub{}

	for _, ch := range []<-chan struct{}{h.Done(), b.Done()} {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatal("shutdown did not stop everything")
		}
	}
	assert.Nil(t, h.Get(context.Background(), "ABC"))
}
