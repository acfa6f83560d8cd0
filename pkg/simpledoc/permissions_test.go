package simpledoc_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-document/pkg/simpledoc"
)

func TestOwnerHoldsEveryCapability(t *testing.T) {
	svc := setupTestService(t)
	doc := createDoc(t, svc, alice, "a.txt", "v1")

	caps, err := svc.Resolve(context.Background(), alice, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, simpledoc.FullCapabilities, caps)

	for _, c := range simpledoc.FullCapabilities.List() {
		ok, err := svc.Authorize(context.Background(), alice, doc.ID, c)
		require.NoError(t, err)
		assert.True(t, ok, c)
	}
}

func TestResolveUnknownDocument(t *testing.T) {
	svc := setupTestService(t)
	_, err := svc.Resolve(context.Background(), alice, uuid.New())
	assert.ErrorIs(t, err, simpledoc.ErrNotFound)

	_, err = svc.Authorize(context.Background(), alice, uuid.New(), simpledoc.Capability("fly"))
	assert.ErrorIs(t, err, simpledoc.ErrInvalidRequest)
}

func TestGrantAndRevoke(t *testing.T) {
	svc := setupTestService(t)
	ctx := context.Background()
	doc := createDoc(t, svc, alice, "a.txt", "v1")
	bobGrantee := simpledoc.Grantee{Kind: simpledoc.GranteePrincipal, ID: "bob"}

	resolve := func() simpledoc.CapabilitySet {
		caps, err := svc.Resolve(ctx, bob, doc.ID)
		require.NoError(t, err)
		return caps
	}

	assert.True(t, resolve().IsEmpty())

	grant(t, svc, alice, doc.ID, "bob", simpledoc.CapabilityRead)
	assert.Equal(t, simpledoc.NewCapabilitySet(simpledoc.CapabilityRead), resolve())

	// granting what is already held is a conflict
	_, err := svc.Grant(ctx, simpledoc.GrantRequest{
		Actor: alice, DocumentID: doc.ID, Grantee: bobGrantee,
		Capabilities: simpledoc.NewCapabilitySet(simpledoc.CapabilityRead),
	})
	assert.ErrorIs(t, err, simpledoc.ErrConflict)

	grant(t, svc, alice, doc.ID, "bob", simpledoc.CapabilityWrite)
	assert.Equal(t, simpledoc.NewCapabilitySet(simpledoc.CapabilityRead, simpledoc.CapabilityWrite), resolve())

	grants, err := svc.ListGrants(ctx, alice, doc.ID)
	require.NoError(t, err)
	require.Len(t, grants, 1)
	assert.Equal(t, bobGrantee, grants[0].Grantee)

	require.NoError(t, svc.Revoke(ctx, simpledoc.RevokeRequest{
		Actor: alice, DocumentID: doc.ID, Grantee: bobGrantee,
		Capabilities: simpledoc.NewCapabilitySet(simpledoc.CapabilityWrite),
	}))
	assert.Equal(t, simpledoc.NewCapabilitySet(simpledoc.CapabilityRead), resolve())

	err = svc.Revoke(ctx, simpledoc.RevokeRequest{
		Actor: alice, DocumentID: doc.ID, Grantee: bobGrantee,
		Capabilities: simpledoc.NewCapabilitySet(simpledoc.CapabilityDelete),
	})
	assert.ErrorIs(t, err, simpledoc.ErrNotFound)

	// an empty set removes the whole grant
	require.NoError(t, svc.Revoke(ctx, simpledoc.RevokeRequest{Actor: alice, DocumentID: doc.ID, Grantee: bobGrantee}))
	assert.True(t, resolve().IsEmpty())

	err = svc.Revoke(ctx, simpledoc.RevokeRequest{Actor: alice, DocumentID: doc.ID, Grantee: bobGrantee})
	assert.ErrorIs(t, err, simpledoc.ErrNotFound)

	grants, err = svc.ListGrants(ctx, alice, doc.ID)
	require.NoError(t, err)
	assert.Empty(t, grants)
}

func TestGrantRequiresManage(t *testing.T) {
	svc := setupTestService(t)
	ctx := context.Background()
	doc := createDoc(t, svc, alice, "a.txt", "v1")
	grant(t, svc, alice, doc.ID, "bob", simpledoc.CapabilityRead, simpledoc.CapabilityWrite)

	_, err := svc.Grant(ctx, simpledoc.GrantRequest{
		Actor: bob, DocumentID: doc.ID,
		Grantee:      simpledoc.Grantee{Kind: simpledoc.GranteePrincipal, ID: "carol"},
		Capabilities: simpledoc.NewCapabilitySet(simpledoc.CapabilityRead),
	})
	assert.ErrorIs(t, err, simpledoc.ErrAccessDenied)

	_, err = svc.ListGrants(ctx, bob, doc.ID)
	assert.ErrorIs(t, err, simpledoc.ErrAccessDenied)

	_, err = svc.Grant(ctx, simpledoc.GrantRequest{
		Actor: alice, DocumentID: doc.ID,
		Grantee: simpledoc.Grantee{Kind: simpledoc.GranteePrincipal, ID: "carol"},
	})
	assert.ErrorIs(t, err, simpledoc.ErrInvalidRequest)

	_, err = svc.Grant(ctx, simpledoc.GrantRequest{
		Actor: alice, DocumentID: doc.ID,
		Grantee:      simpledoc.Grantee{Kind: "team", ID: "carol"},
		Capabilities: simpledoc.NewCapabilitySet(simpledoc.CapabilityRead),
	})
	assert.ErrorIs(t, err, simpledoc.ErrInvalidRequest)

	// delegated manage_permissions is enough
	grant(t, svc, alice, doc.ID, "bob", simpledoc.CapabilityManagePermissions)
	grant(t, svc, bob, doc.ID, "carol", simpledoc.CapabilityRead)
	caps, err := svc.Resolve(ctx, carol, doc.ID)
	require.NoError(t, err)
	assert.True(t, caps.Has(simpledoc.CapabilityRead))
}

func TestRoleGrants(t *testing.T) {
	svc := setupTestService(t)
	ctx := context.Background()
	doc := createDoc(t, svc, alice, "a.txt", "v1")
	other := createDoc(t, svc, bob, "b.txt", "v1")

	admin := simpledoc.Principal{ID: "root", Roles: []string{"admin"}}
	editor := simpledoc.Principal{ID: "dave", Roles: []string{"editor", "editor"}}

	_, err := svc.BootstrapRole(ctx, "admin", simpledoc.FullCapabilities)
	require.NoError(t, err)
	// bootstrapping twice is harmless
	_, err = svc.BootstrapRole(ctx, "admin", simpledoc.FullCapabilities)
	require.NoError(t, err)

	for _, id := range []uuid.UUID{doc.ID, other.ID} {
		caps, err := svc.Resolve(ctx, admin, id)
		require.NoError(t, err)
		assert.Equal(t, simpledoc.FullCapabilities, caps)
	}

	_, err = svc.GrantRole(ctx, simpledoc.RoleGrantRequest{
		Actor: bob, Role: "editor", Capabilities: simpledoc.NewCapabilitySet(simpledoc.CapabilityWrite),
	})
	assert.ErrorIs(t, err, simpledoc.ErrAccessDenied)

	_, err = svc.GrantRole(ctx, simpledoc.RoleGrantRequest{
		Actor: admin, Role: "editor",
		Capabilities: simpledoc.NewCapabilitySet(simpledoc.CapabilityRead, simpledoc.CapabilityWrite),
	})
	require.NoError(t, err)

	caps, err := svc.Resolve(ctx, editor, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, simpledoc.NewCapabilitySet(simpledoc.CapabilityRead, simpledoc.CapabilityWrite), caps)

	// per-document and role grants combine
	grant(t, svc, alice, doc.ID, "dave", simpledoc.CapabilityDownload)
	caps, err = svc.Resolve(ctx, editor, doc.ID)
	require.NoError(t, err)
	assert.True(t, caps.Has(simpledoc.CapabilityDownload))
	caps, err = svc.Resolve(ctx, editor, other.ID)
	require.NoError(t, err)
	assert.False(t, caps.Has(simpledoc.CapabilityDownload))

	require.NoError(t, svc.RevokeRole(ctx, simpledoc.RoleGrantRequest{Actor: admin, Role: "editor"}))
	caps, err = svc.Resolve(ctx, editor, other.ID)
	require.NoError(t, err)
	assert.True(t, caps.IsEmpty())

	assert.ErrorIs(t, svc.RevokeRole(ctx, simpledoc.RoleGrantRequest{Actor: admin, Role: "editor"}), simpledoc.ErrNotFound)
}

func TestGrantToRoleOnDocument(t *testing.T) {
	svc := setupTestService(t)
	ctx := context.Background()
	doc := createDoc(t, svc, alice, "a.txt", "v1")

	_, err := svc.Grant(ctx, simpledoc.GrantRequest{
		Actor: alice, DocumentID: doc.ID,
		Grantee:      simpledoc.Grantee{Kind: simpledoc.GranteeRole, ID: "reviewers"},
		Capabilities: simpledoc.NewCapabilitySet(simpledoc.CapabilityRead),
	})
	require.NoError(t, err)

	reviewer := simpledoc.Principal{ID: "erin", Roles: []string{"reviewers"}}
	got, err := svc.GetDocument(ctx, reviewer, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, doc.ID, got.ID)

	// a principal named like the role gets nothing
	_, err = svc.GetDocument(ctx, simpledoc.Principal{ID: "reviewers"}, doc.ID)
	assert.ErrorIs(t, err, simpledoc.ErrAccessDenied)
}
