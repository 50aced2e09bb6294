package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internaldb "geotables/internal/db"
	"geotables/internal/domain"
)

func intPtr(v int) *int { return &v }

func setupOwnerRepo(t *testing.T) *OwnerRepo {
	t.Helper()
	writeDB, _ := internaldb.OpenTestSQLite(t)
	return NewOwnerRepo(writeDB)
}

func seedOwner(t *testing.T, repo *OwnerRepo, username string) *domain.Owner {
	t.Helper()
	o, err := repo.Create(context.Background(), &domain.Owner{
		Username:     username,
		Schema:       username,
		DatabaseRole: "role_" + username,
	})
	require.NoError(t, err)
	return o
}

func TestOwnerRepo_CreateAndGet(t *testing.T) {
	repo := setupOwnerRepo(t)
	ctx := context.Background()
	org := "org-1"

	created, err := repo.Create(ctx, &domain.Owner{
		Username:       "alice",
		Schema:         "alice",
		DatabaseRole:   "cdb_user_alice",
		OrganizationID: &org,
		TableQuota:     intPtr(5),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "free", created.Plan)
	assert.Equal(t, &org, created.OrganizationID)
	assert.Equal(t, intPtr(5), created.TableQuota)
	assert.False(t, created.CreatedAt.IsZero())

	got, err := repo.GetByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, domain.Namespace{Schema: "alice", Role: "cdb_user_alice"}, got.Namespace())
}

func TestOwnerRepo_NotFound(t *testing.T) {
	repo := setupOwnerRepo(t)

	_, err := repo.Get(context.Background(), "missing")
	var notFound *domain.NotFoundError
	require.ErrorAs(t, err, &notFound)

	_, err = repo.GetByUsername(context.Background(), "missing")
	require.ErrorAs(t, err, &notFound)
}

func TestOwnerRepo_DuplicateUsername(t *testing.T) {
	repo := setupOwnerRepo(t)
	seedOwner(t, repo, "bob")

	_, err := repo.Create(context.Background(), &domain.Owner{Username: "bob", Schema: "bob2", DatabaseRole: "r"})
	var conflict *domain.ConflictError
	require.ErrorAs(t, err, &conflict)
}
