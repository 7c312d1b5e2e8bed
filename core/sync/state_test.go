package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jun/gophsync/internal/model"
)

func TestPendingWrite_Reconcile(t *testing.T) {
	guess := []model.Item{link("A"), link("B")}
	pw := newPendingWrite(model.Links, guess)

	assert.Equal(t, WritePending, pw.State())
	assert.Equal(t, guess, pw.Items())
	select {
	case <-pw.Done():
		t.Fatal("done before settling")
	default:
	}

	pw.reconcile(snapshot(4, link("A"), link("C"), link("B")))
	require.NoError(t, pw.Wait(context.Background()))
	assert.Equal(t, WriteReconciled, pw.State())
	assert.Equal(t, int64(4), pw.Snapshot().Revision)
	assert.Equal(t, []model.Item{link("A"), link("C"), link("B")}, pw.Items())
}

func TestPendingWrite_SettlesOnce(t *testing.T) {
	pw := newPendingWrite(model.Links, nil)
	boom := errors.New("boom")

	pw.fail(snapshot(2, link("A")), boom)
	pw.reconcile(snapshot(3))

	assert.Equal(t, WriteFailed, pw.State())
	assert.ErrorIs(t, pw.Err(), boom)
	assert.Equal(t, int64(2), pw.Snapshot().Revision)
	assert.Equal(t, "failed", pw.State().String())
}

func TestPendingWrite_WaitHonorsContext(t *testing.T) {
	pw := newPendingWrite(model.Links, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, pw.Wait(ctx), context.DeadlineExceeded)
	assert.Equal(t, WritePending, pw.State())
}
