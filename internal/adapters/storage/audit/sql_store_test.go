package audit_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"welfare/internal/adapters/storage"
	auditStore "welfare/internal/adapters/storage/audit"
	"welfare/internal/adapters/storage/storagetest"
	domain "welfare/internal/domain/audit"
)

func TestSQLStore_SaveAndList(t *testing.T) {
	ctx := context.Background()
	s := auditStore.NewSQLStore(storagetest.Open(t), storage.DialectSQLite)
	base := time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)

	events := []domain.Event{
		domain.NewEvent("u1", "TM10001", "member", domain.CategoryAuth, domain.ActionLogin, base),
		domain.NewEvent("u2", "COL001", "collector", domain.CategoryReport, domain.ActionPrint, base.Add(time.Minute)).
			WithResource("collector", "Anjum Riaz"),
		domain.NewEvent("u1", "TM10001", "member", domain.CategoryAuth, domain.ActionLogout, base.Add(2*time.Minute)),
	}
	for _, e := range events {
		require.NoError(t, s.Save(ctx, e))
	}

	all, err := s.List(ctx, auditStore.ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, domain.ActionLogout, all[0].Action)

	auth, err := s.List(ctx, auditStore.ListFilter{Category: domain.CategoryAuth, ActorID: "u1"})
	require.NoError(t, err)
	assert.Len(t, auth, 2)

	recent, err := s.List(ctx, auditStore.ListFilter{Since: base.Add(time.Minute), Limit: 1})
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, domain.ActionLogout, recent[0].Action)

	reports, err := s.List(ctx, auditStore.ListFilter{Category: domain.CategoryReport})
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, "Anjum Riaz", reports[0].ResourceID)
}
