package sqlite

import (
	"testing"

	"github.com/stretchr/testify/require"

	"slm-core/internal/apperrors"
)

func TestReparentRejectsCycle(t *testing.T) {
	db := openTestDB(t)
	store := NewStore(db)
	tree := NewTreeManager(db)

	rootID, err := store.Add(AddParams{Profile: "default", Content: "root"})
	require.NoError(t, err)
	childID, err := store.Add(AddParams{Profile: "default", Content: "child", ParentID: &rootID})
	require.NoError(t, err)

	err = tree.Reparent("default", rootID, &childID)
	require.Error(t, err)
	ae, ok := apperrors.As(err)
	require.True(t, ok)
	require.Equal(t, apperrors.KindValidation, ae.Kind)
}

func TestReparentRejectsSelfParent(t *testing.T) {
	db := openTestDB(t)
	store := NewStore(db)
	tree := NewTreeManager(db)

	id, err := store.Add(AddParams{Profile: "default", Content: "solo"})
	require.NoError(t, err)

	err = tree.Reparent("default", id, &id)
	require.Error(t, err)
}

func TestReparentRewritesSubtreePaths(t *testing.T) {
	db := openTestDB(t)
	store := NewStore(db)
	tree := NewTreeManager(db)

	rootA, err := store.Add(AddParams{Profile: "default", Content: "root a"})
	require.NoError(t, err)
	rootB, err := store.Add(AddParams{Profile: "default", Content: "root b"})
	require.NoError(t, err)
	mid, err := store.Add(AddParams{Profile: "default", Content: "mid", ParentID: &rootA})
	require.NoError(t, err)
	leaf, err := store.Add(AddParams{Profile: "default", Content: "leaf", ParentID: &mid})
	require.NoError(t, err)

	require.NoError(t, tree.Reparent("default", mid, &rootB))

	midNote, err := store.Get("default", mid)
	require.NoError(t, err)
	require.Equal(t, 1, midNote.Depth)

	leafNote, err := store.Get("default", leaf)
	require.NoError(t, err)
	require.Equal(t, 2, leafNote.Depth)
	require.Contains(t, leafNote.TreePath, midNote.TreePath)
}

func TestAncestorsOrderedRootFirst(t *testing.T) {
	db := openTestDB(t)
	store := NewStore(db)
	tree := NewTreeManager(db)

	root, err := store.Add(AddParams{Profile: "default", Content: "root"})
	require.NoError(t, err)
	mid, err := store.Add(AddParams{Profile: "default", Content: "mid", ParentID: &root})
	require.NoError(t, err)
	leaf, err := store.Add(AddParams{Profile: "default", Content: "leaf", ParentID: &mid})
	require.NoError(t, err)

	ancestors, err := tree.Ancestors("default", leaf)
	require.NoError(t, err)
	require.Len(t, ancestors, 2)
	require.Equal(t, root, ancestors[0].ID)
	require.Equal(t, mid, ancestors[1].ID)
}

func TestDescendantsExcludesSelf(t *testing.T) {
	db := openTestDB(t)
	store := NewStore(db)
	tree := NewTreeManager(db)

	root, err := store.Add(AddParams{Profile: "default", Content: "root"})
	require.NoError(t, err)
	child, err := store.Add(AddParams{Profile: "default", Content: "child", ParentID: &root})
	require.NoError(t, err)

	descendants, err := tree.Descendants("default", root)
	require.NoError(t, err)
	require.Len(t, descendants, 1)
	require.Equal(t, child, descendants[0].ID)
}

func TestSiblingsExcludesSelfAndSharesParent(t *testing.T) {
	db := openTestDB(t)
	store := NewStore(db)
	tree := NewTreeManager(db)

	root, err := store.Add(AddParams{Profile: "default", Content: "root"})
	require.NoError(t, err)
	childA, err := store.Add(AddParams{Profile: "default", Content: "child a", ParentID: &root})
	require.NoError(t, err)
	childB, err := store.Add(AddParams{Profile: "default", Content: "child b", ParentID: &root})
	require.NoError(t, err)

	siblings, err := tree.Siblings("default", childA)
	require.NoError(t, err)
	require.Len(t, siblings, 1)
	require.Equal(t, childB, siblings[0].ID)
}

func TestSiblingsAtRootLevel(t *testing.T) {
	db := openTestDB(t)
	store := NewStore(db)
	tree := NewTreeManager(db)

	rootA, err := store.Add(AddParams{Profile: "default", Content: "root a"})
	require.NoError(t, err)
	rootB, err := store.Add(AddParams{Profile: "default", Content: "root b"})
	require.NoError(t, err)

	siblings, err := tree.Siblings("default", rootA)
	require.NoError(t, err)
	require.Len(t, siblings, 1)
	require.Equal(t, rootB, siblings[0].ID)
}
