package privacy

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internaldb "geotables/internal/db"
	"geotables/internal/db/repository"
	"geotables/internal/domain"
	"geotables/internal/testutil"
)

type fixture struct {
	gateway    *testutil.MockPermissionGateway
	dependents *repository.DependentRepo
	prop       *Propagator
	owner      *domain.Owner
	bob        *domain.Owner
	table      *domain.TableIdentity
}

func setup(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	writeDB, _ := internaldb.OpenTestSQLite(t)
	owners := repository.NewOwnerRepo(writeDB)
	alice, err := owners.Create(ctx, &domain.Owner{Username: "alice", Schema: "alice", DatabaseRole: "alice_role"})
	require.NoError(t, err)
	bob, err := owners.Create(ctx, &domain.Owner{Username: "bob", Schema: "bob", DatabaseRole: "bob_role"})
	require.NoError(t, err)
	tbl, err := repository.NewTableRepo(writeDB).Create(ctx, &domain.TableIdentity{OwnerID: alice.ID, Name: "cities"})
	require.NoError(t, err)

	f := &fixture{
		gateway:    &testutil.MockPermissionGateway{},
		dependents: repository.NewDependentRepo(writeDB),
		owner:      alice,
		bob:        bob,
		table:      tbl,
	}
	f.prop = NewPropagator(f.gateway, owners, f.dependents, "", slog.New(slog.DiscardHandler))
	return f
}

func TestOnSave(t *testing.T) {
	tests := []struct {
		name     string
		previous domain.Privacy
		current  domain.Privacy
		want     []string
	}{
		{name: "unchanged", previous: domain.PrivacyPublic, current: domain.PrivacyPublic},
		{name: "private to public", previous: domain.PrivacyPrivate, current: domain.PrivacyPublic,
			want: []string{"grant_read cities publicuser"}},
		{name: "private to link", previous: domain.PrivacyPrivate, current: domain.PrivacyLink,
			want: []string{"grant_read cities publicuser"}},
		{name: "public to private", previous: domain.PrivacyPublic, current: domain.PrivacyPrivate,
			want: []string{"revoke cities publicuser"}},
		{name: "link to password", previous: domain.PrivacyLink, current: domain.PrivacyPassword,
			want: []string{"revoke cities publicuser"}},
		{name: "public to link reissues grant", previous: domain.PrivacyPublic, current: domain.PrivacyLink,
			want: []string{"grant_read cities publicuser"}},
		{name: "private to password reissues revoke", previous: domain.PrivacyPrivate, current: domain.PrivacyPassword,
			want: []string{"revoke cities publicuser"}},
		{name: "new public table", previous: "", current: domain.PrivacyPublic,
			want: []string{"grant_read cities publicuser"}},
		{name: "new private table", previous: "", current: domain.PrivacyPrivate,
			want: []string{"revoke cities publicuser"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setup(t)
			f.table.Privacy = tt.current
			require.NoError(t, f.prop.OnSave(context.Background(), f.owner, f.table, tt.previous))
			assert.Equal(t, tt.want, f.gateway.Calls)
		})
	}
}

func TestOnSave_DeferredWhileSyncing(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	job, err := f.dependents.CreateSyncJob(ctx, &domain.SyncJob{
		TableID: f.table.ID, OwnerID: f.owner.ID, URL: "https://example.com/c.csv", Schedule: "@daily",
	})
	require.NoError(t, err)
	f.table.Privacy = domain.PrivacyPublic

	require.NoError(t, f.prop.OnSave(ctx, f.owner, f.table, ""))
	assert.Empty(t, f.gateway.Calls)

	// Later privacy changes are propagated even with a sync job.
	f.table.Privacy = domain.PrivacyPrivate
	require.NoError(t, f.prop.OnSave(ctx, f.owner, f.table, domain.PrivacyPublic))
	assert.Equal(t, []string{"revoke cities publicuser"}, f.gateway.Calls)

	// A failed sync no longer feeds the table.
	require.NoError(t, f.dependents.DeleteSyncJob(ctx, job.ID))
	_, err = f.dependents.CreateSyncJob(ctx, &domain.SyncJob{
		TableID: f.table.ID, OwnerID: f.owner.ID, URL: "https://example.com/c.csv", Schedule: "@daily", State: domain.SyncStateFailure,
	})
	require.NoError(t, err)
	f.gateway.Reset()
	f.table.Privacy = domain.PrivacyPublic
	require.NoError(t, f.prop.OnSave(ctx, f.owner, f.table, ""))
	assert.Equal(t, []string{"grant_read cities publicuser"}, f.gateway.Calls)
}

func TestOnSave_GatewayError(t *testing.T) {
	f := setup(t)
	f.gateway.Err = errors.New("permission denied")
	f.table.Privacy = domain.PrivacyPublic

	err := f.prop.OnSave(context.Background(), f.owner, f.table, domain.PrivacyPrivate)
	var perr *domain.PermissionPropagationError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "cities", perr.Table)
	assert.False(t, domain.IsUserError(err))
}

func TestOnSave_CustomPublicRole(t *testing.T) {
	f := setup(t)
	f.prop.publicRole = "anon"
	f.table.Privacy = domain.PrivacyLink
	require.NoError(t, f.prop.OnSave(context.Background(), f.owner, f.table, domain.PrivacyPrivate))
	assert.Equal(t, []string{"grant_read cities anon"}, f.gateway.Calls)
}

func TestShare(t *testing.T) {
	user := func(id string, access domain.ShareAccess) domain.ACLEntry {
		return domain.ACLEntry{EntityType: domain.ShareUser, EntityID: id, Access: access}
	}
	org := func(id string, access domain.ShareAccess) domain.ACLEntry {
		return domain.ACLEntry{EntityType: domain.ShareOrganization, EntityID: id, Access: access}
	}

	f := setup(t)
	bob := f.bob.ID
	tests := []struct {
		name   string
		before []domain.ACLEntry
		after  []domain.ACLEntry
		want   []string
	}{
		{name: "no change", before: []domain.ACLEntry{user(bob, domain.AccessRead)}, after: []domain.ACLEntry{user(bob, domain.AccessRead)}},
		{name: "share read with user", after: []domain.ACLEntry{user(bob, domain.AccessRead)},
			want: []string{"grant_read cities bob_role"}},
		{name: "share write with user", after: []domain.ACLEntry{user(bob, domain.AccessReadWrite)},
			want: []string{"grant_rw cities bob_role"}},
		{name: "unshare user", before: []domain.ACLEntry{user(bob, domain.AccessRead)},
			want: []string{"revoke cities bob_role"}},
		{name: "upgrade user", before: []domain.ACLEntry{user(bob, domain.AccessRead)}, after: []domain.ACLEntry{user(bob, domain.AccessReadWrite)},
			want: []string{"grant_rw cities bob_role"}},
		{name: "downgrade user", before: []domain.ACLEntry{user(bob, domain.AccessReadWrite)}, after: []domain.ACLEntry{user(bob, domain.AccessRead)},
			want: []string{"revoke cities bob_role", "grant_read cities bob_role"}},
		{name: "share with organization", after: []domain.ACLEntry{org("acme", domain.AccessRead)},
			want: []string{"grant_read cities org:acme"}},
		{name: "organization write then unshare", before: []domain.ACLEntry{org("acme", domain.AccessReadWrite)},
			want: []string{"revoke cities org:acme"}},
		{
			name:   "mixed",
			before: []domain.ACLEntry{org("acme", domain.AccessRead), user(bob, domain.AccessRead)},
			after:  []domain.ACLEntry{org("acme", domain.AccessReadWrite)},
			want:   []string{"revoke cities bob_role", "grant_rw cities org:acme"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f.gateway.Reset()
			require.NoError(t, f.prop.Share(context.Background(), f.owner, f.table, tt.before, tt.after))
			assert.Equal(t, tt.want, f.gateway.Calls)
		})
	}
}

func TestShare_UnknownUser(t *testing.T) {
	f := setup(t)
	err := f.prop.Share(context.Background(), f.owner, f.table, nil, []domain.ACLEntry{
		{EntityType: domain.ShareUser, EntityID: "ghost", Access: domain.AccessRead},
		{EntityType: domain.ShareOrganization, EntityID: "acme", Access: domain.AccessRead},
	})
	var perr *domain.PermissionPropagationError
	require.ErrorAs(t, err, &perr)
	var nf *domain.NotFoundError
	assert.ErrorAs(t, err, &nf)
	// The organization grant is still attempted.
	assert.Equal(t, []string{"grant_read cities org:acme"}, f.gateway.Calls)
}
