package profilemgr

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"slm-core/internal/apperrors"
	"slm-core/internal/domain"
	"slm-core/internal/persistence/sqlite"
)

func newTestManager(t *testing.T) (*Manager, *sqlite.Store) {
	t.Helper()
	dir := t.TempDir()
	db, err := sqlite.Open(filepath.Join(dir, "memory.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := sqlite.NewStore(db)
	backup := sqlite.NewBackupManager(db, filepath.Join(dir, "memory.db"), filepath.Join(dir, "backups"))
	mgr := NewManager(db, store, backup, filepath.Join(dir, "profiles.json"))
	return mgr, store
}

func TestActiveSeedsSidecarWithDefault(t *testing.T) {
	mgr, _ := newTestManager(t)
	active, err := mgr.Active()
	require.NoError(t, err)
	require.Equal(t, domain.DefaultProfile, active)
}

func TestCreateRejectsInvalidName(t *testing.T) {
	mgr, _ := newTestManager(t)
	err := mgr.Create("Not Valid!", "")
	require.Error(t, err)
	ae, ok := apperrors.As(err)
	require.True(t, ok)
	require.Equal(t, apperrors.KindValidation, ae.Kind)
}

func TestCreateRejectsDuplicateName(t *testing.T) {
	mgr, _ := newTestManager(t)
	require.NoError(t, mgr.Create("work", "work notes"))
	err := mgr.Create("work", "again")
	require.Error(t, err)
	ae, ok := apperrors.As(err)
	require.True(t, ok)
	require.Equal(t, apperrors.KindConflict, ae.Kind)
}

func TestSwitchToUnknownProfileFails(t *testing.T) {
	mgr, _ := newTestManager(t)
	err := mgr.Switch("ghost")
	require.Error(t, err)
	ae, ok := apperrors.As(err)
	require.True(t, ok)
	require.Equal(t, apperrors.KindNotFound, ae.Kind)
}

func TestSwitchThenActiveReflectsNewProfile(t *testing.T) {
	mgr, _ := newTestManager(t)
	require.NoError(t, mgr.Create("work", ""))
	require.NoError(t, mgr.Switch("work"))
	active, err := mgr.Active()
	require.NoError(t, err)
	require.Equal(t, "work", active)
}

func TestDeleteForbidsDefaultProfile(t *testing.T) {
	mgr, _ := newTestManager(t)
	err := mgr.Delete(make(chan struct{}), domain.DefaultProfile, 7)
	require.Error(t, err)
	ae, ok := apperrors.As(err)
	require.True(t, ok)
	require.Equal(t, apperrors.KindValidation, ae.Kind)
}

func TestDeleteForbidsActiveProfile(t *testing.T) {
	mgr, _ := newTestManager(t)
	require.NoError(t, mgr.Create("work", ""))
	require.NoError(t, mgr.Switch("work"))

	err := mgr.Delete(make(chan struct{}), "work", 7)
	require.Error(t, err)
	ae, ok := apperrors.As(err)
	require.True(t, ok)
	require.Equal(t, apperrors.KindValidation, ae.Kind)
}

// TestProfileIsolationNotesDoNotLeakAcrossProfiles covers invariant 2: data
// scoped to one profile must never appear when operating under another.
func TestProfileIsolationNotesDoNotLeakAcrossProfiles(t *testing.T) {
	mgr, store := newTestManager(t)
	require.NoError(t, mgr.Create("work", ""))

	_, err := store.Add(sqlite.AddParams{Profile: domain.DefaultProfile, Content: "default-only note"})
	require.NoError(t, err)
	_, err = store.Add(sqlite.AddParams{Profile: "work", Content: "work-only note"})
	require.NoError(t, err)

	defaultNotes, err := store.List(domain.DefaultProfile, sqlite.SortRecent, 10, 0)
	require.NoError(t, err)
	require.Len(t, defaultNotes, 1)
	require.Equal(t, "default-only note", defaultNotes[0].Content)

	workNotes, err := store.List("work", sqlite.SortRecent, 10, 0)
	require.NoError(t, err)
	require.Len(t, workNotes, 1)
	require.Equal(t, "work-only note", workNotes[0].Content)
}

func TestDeleteRemovesScopedRows(t *testing.T) {
	mgr, store := newTestManager(t)
	require.NoError(t, mgr.Create("scratch", ""))

	_, err := store.Add(sqlite.AddParams{Profile: "scratch", Content: "throwaway note"})
	require.NoError(t, err)

	require.NoError(t, mgr.Delete(make(chan struct{}), "scratch", 7))

	notes, err := store.List("scratch", sqlite.SortRecent, 10, 0)
	require.NoError(t, err)
	require.Empty(t, notes)

	list, err := mgr.List()
	require.NoError(t, err)
	for _, pc := range list {
		require.NotEqual(t, "scratch", pc.Name)
	}
}

func TestListReportsPerProfileCounts(t *testing.T) {
	mgr, store := newTestManager(t)
	require.NoError(t, mgr.Create("work", ""))
	_, err := store.Add(sqlite.AddParams{Profile: "work", Content: "a work note"})
	require.NoError(t, err)

	counts, err := mgr.List()
	require.NoError(t, err)
	var workCount int
	for _, pc := range counts {
		if pc.Name == "work" {
			workCount = pc.Notes
		}
	}
	require.Equal(t, 1, workCount)
}
