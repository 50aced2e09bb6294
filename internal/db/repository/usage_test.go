package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internaldb "geotables/internal/db"
	"geotables/internal/domain"
)

func TestQuotaRepo_OverTableQuota(t *testing.T) {
	writeDB, _ := internaldb.OpenTestSQLite(t)
	ctx := context.Background()
	owners := NewOwnerRepo(writeDB)
	tables := NewTableRepo(writeDB)
	quota := NewQuotaRepo(writeDB)

	limited, err := owners.Create(ctx, &domain.Owner{Username: "alice", Schema: "alice", DatabaseRole: "r", TableQuota: intPtr(2)})
	require.NoError(t, err)
	unlimited := seedOwner(t, owners, "bob")

	for i, name := range []string{"a", "b"} {
		over, err := quota.OverTableQuota(ctx, limited)
		require.NoError(t, err)
		assert.False(t, over, "table %d", i)
		_, err = tables.Create(ctx, &domain.TableIdentity{OwnerID: limited.ID, Name: name})
		require.NoError(t, err)
	}

	over, err := quota.OverTableQuota(ctx, limited)
	require.NoError(t, err)
	assert.True(t, over)

	over, err = quota.OverTableQuota(ctx, unlimited)
	require.NoError(t, err)
	assert.False(t, over)
}

func TestUsageCounterRepo_Scopes(t *testing.T) {
	writeDB, _ := internaldb.OpenTestSQLite(t)
	ctx := context.Background()
	counters := NewUsageCounterRepo(writeDB, "worker-1")
	owner := &domain.Owner{ID: "o1", Plan: "pro"}

	require.NoError(t, counters.IncrementTables(ctx, owner))
	require.NoError(t, counters.IncrementTables(ctx, owner))
	require.NoError(t, counters.DecrementTables(ctx, owner))

	for _, tc := range []struct{ scope, key string }{
		{ScopeOwner, "o1"},
		{ScopePlan, "pro"},
		{ScopeHost, "worker-1"},
	} {
		v, err := counters.Value(ctx, tc.scope, tc.key, metricTables)
		require.NoError(t, err)
		assert.Equal(t, int64(1), v, tc.scope)
	}
}

func TestUsageCounterRepo_NeverNegative(t *testing.T) {
	writeDB, _ := internaldb.OpenTestSQLite(t)
	ctx := context.Background()
	counters := NewUsageCounterRepo(writeDB, "")
	owner := &domain.Owner{ID: "o1", Plan: "free"}

	require.NoError(t, counters.DecrementTables(ctx, owner))
	require.NoError(t, counters.DecrementTables(ctx, owner))

	v, err := counters.Value(ctx, ScopeOwner, "o1", metricTables)
	require.NoError(t, err)
	assert.Equal(t, int64(0), v)

	v, err = counters.Value(ctx, ScopeHost, "", metricTables)
	require.NoError(t, err)
	assert.Equal(t, int64(0), v)
}
