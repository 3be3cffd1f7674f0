package store

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/orc-core/internal/task"
)

func TestAcquireWorkingCopy_PicksLowestIDIdleSlot(t *testing.T) {
	s := newTestStore(t)

	id1, err := s.CreateWorkingCopy("wt-01", "/tmp/wt-01", "orc/wt-01")
	require.NoError(t, err)
	_, err = s.CreateWorkingCopy("wt-02", "/tmp/wt-02", "orc/wt-02")
	require.NoError(t, err)

	wc, err := s.AcquireWorkingCopy()
	require.NoError(t, err)
	require.Equal(t, id1, wc.ID)
	require.Equal(t, task.WorkingCopyBusy, wc.Status)
}

func TestAcquireWorkingCopy_NoneIdle(t *testing.T) {
	s := newTestStore(t)

	id, err := s.CreateWorkingCopy("wt-01", "/tmp/wt-01", "orc/wt-01")
	require.NoError(t, err)
	_, err = s.AcquireWorkingCopy()
	require.NoError(t, err)

	wc, err := s.AcquireWorkingCopy()
	require.NoError(t, err)
	require.Nil(t, wc)

	require.NoError(t, s.ReleaseWorkingCopy(id))
	wc, err = s.AcquireWorkingCopy()
	require.NoError(t, err)
	require.NotNil(t, wc)
	require.Equal(t, id, wc.ID)
}

func TestReleaseWorkingCopy_IdempotentOnAlreadyIdle(t *testing.T) {
	s := newTestStore(t)

	id, err := s.CreateWorkingCopy("wt-01", "/tmp/wt-01", "orc/wt-01")
	require.NoError(t, err)

	require.NoError(t, s.ReleaseWorkingCopy(id))
	require.NoError(t, s.ReleaseWorkingCopy(id))

	wc, err := s.GetWorkingCopyByName("wt-01")
	require.NoError(t, err)
	require.Equal(t, task.WorkingCopyIdle, wc.Status)
}

func TestListWorkingCopies_ExcludesRemoved(t *testing.T) {
	s := newTestStore(t)

	id1, err := s.CreateWorkingCopy("wt-01", "/tmp/wt-01", "orc/wt-01")
	require.NoError(t, err)
	_, err = s.CreateWorkingCopy("wt-02", "/tmp/wt-02", "orc/wt-02")
	require.NoError(t, err)

	require.NoError(t, s.RemoveWorkingCopy(id1))

	list, err := s.ListWorkingCopies()
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "wt-02", list[0].Name)
}

func TestGetWorkingCopyByName_NotFound(t *testing.T) {
	s := newTestStore(t)

	wc, err := s.GetWorkingCopyByName("does-not-exist")
	require.NoError(t, err)
	require.Nil(t, wc)
}

func TestRemoveWorkingCopy_PermittedInAnyState(t *testing.T) {
	s := newTestStore(t)

	id, err := s.CreateWorkingCopy("wt-01", "/tmp/wt-01", "orc/wt-01")
	require.NoError(t, err)
	_, err = s.AcquireWorkingCopy()
	require.NoError(t, err)

	require.NoError(t, s.RemoveWorkingCopy(id))

	list, err := s.ListWorkingCopies()
	require.NoError(t, err)
	require.Empty(t, list)
}
