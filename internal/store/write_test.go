package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Houngansi/SuspenseCore-sub009/internal/security"
	"github.com/Houngansi/SuspenseCore-sub009/internal/testutil"
	"github.com/Houngansi/SuspenseCore-sub009/internal/transaction"
)

func TestAppendTransaction_Idempotent(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	j := newJournaled(t, s, "p1")

	id := j.commit(t, "equip two", equipOp(0, "AK74"), equipOp(2, "Altyn"))
	tx, err := s.ReadTransaction(ctx, id)
	require.NoError(t, err)

	require.NoError(t, s.AppendTransaction(ctx, tx))

	counts, err := s.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts["transactions"])
	assert.Equal(t, int64(2), counts["operations"])
}

func TestAppendTransaction_RejectsIncomplete(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	assert.Error(t, s.AppendTransaction(ctx, transaction.Transaction{PlayerID: "p1"}))
	assert.Error(t, s.AppendTransaction(ctx, transaction.Transaction{ID: "t1"}))
	assert.Error(t, s.AppendTransaction(ctx, transaction.Transaction{ID: "t2", PlayerID: "p1", ParentID: "t1"}))
}

func TestSaveSnapshot_Dedup(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	j := newJournaled(t, s, "p1")

	snap := j.container.Snapshot()
	require.NoError(t, s.SaveSnapshot(ctx, "p1", snap))
	require.NoError(t, s.SaveSnapshot(ctx, "p1", snap))

	counts, err := s.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts["snapshots"])
}

func TestAuditSink(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	clock := testutil.NewManualClock(time.Time{})

	keys := security.NewKeyStorage()
	require.NoError(t, keys.SetKey([]byte("0123456789abcdef0123456789abcdef")))
	svc := security.NewService(security.DefaultConfig(), keys,
		security.WithServiceClock(clock),
		security.WithAudit(s.AuditSink()),
	)
	svc.BanPlayer("cheater", time.Minute, "speed hack")

	events, err := s.ReadSecurityEvents(ctx, "cheater", 0)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, security.EventPlayerBanned, last.Kind)
	assert.True(t, last.Time.Equal(testutil.Epoch))
}
