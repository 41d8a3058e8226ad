package publish

import (
	"context"
	"testing"

	"github.com/DoyleJ11/battle-sync/pkg/types"
	"github.com/stretchr/testify/assert"
)

func TestSubject(t *testing.T) {
	assert.Equal(t, "battle.events.ABC123.qte.resolved", Subject("battle.events", "ABC123", types.EventQTEResolved))
	assert.Equal(t, "x.B.battle.ended", Subject("x", "B", types.EventBattleEnded))
}

func TestNop(t *testing.T) {
	var p Publisher = Nop{}
	assert.NoError(t, p.Publish(context.Background(), "b1", types.Envelope{Type: types.EventQTEStart}))
	assert.NoError(t, p.Close())
}
