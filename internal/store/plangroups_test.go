package store

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/orc-core/internal/errs"
	"github.com/randalmurphal/orc-core/internal/task"
)

func TestCreatePlanGroup_StartsInPlanning(t *testing.T) {
	s := newTestStore(t)

	id, err := s.CreatePlanGroup("ship the feature")
	require.NoError(t, err)

	pg, err := s.GetPlanGroup(id)
	require.NoError(t, err)
	require.Equal(t, "ship the feature", pg.Goal)
	require.Equal(t, task.PlanGroupPlanning, pg.Status)
	require.Empty(t, pg.PlanText)
}

func TestGetPlanGroup_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetPlanGroup(999)
	require.Error(t, err)
	require.True(t, errs.HasCode(err, errs.CodePlanGroupNotFound))
}

func TestSetPlanGroupStatus_StampsFinishedAtOnCompletion(t *testing.T) {
	s := newTestStore(t)

	id, err := s.CreatePlanGroup("goal")
	require.NoError(t, err)

	require.NoError(t, s.SetPlanGroupStatus(id, task.PlanGroupReviewing))
	pg, err := s.GetPlanGroup(id)
	require.NoError(t, err)
	require.Equal(t, task.PlanGroupReviewing, pg.Status)
	require.Nil(t, pg.FinishedAt)

	require.NoError(t, s.SetPlanGroupStatus(id, task.PlanGroupCompleted))
	pg, err = s.GetPlanGroup(id)
	require.NoError(t, err)
	require.Equal(t, task.PlanGroupCompleted, pg.Status)
	require.NotNil(t, pg.FinishedAt)
}

func TestListGroupChildTasks_ReturnsOnlyMatchingGroup(t *testing.T) {
	s := newTestStore(t)

	groupA, err := s.CreatePlanGroup("a")
	require.NoError(t, err)
	groupB, err := s.CreatePlanGroup("b")
	require.NoError(t, err)

	t1, err := s.CreateExecuteTask("step one", 5, groupA)
	require.NoError(t, err)
	t2, err := s.CreateExecuteTask("step two", 4, groupA)
	require.NoError(t, err)
	_, err = s.CreateExecuteTask("other group", 5, groupB)
	require.NoError(t, err)

	children, err := s.ListGroupChildTasks(groupA)
	require.NoError(t, err)
	require.Len(t, children, 2)
	require.Equal(t, t1, children[0].ID)
	require.Equal(t, t2, children[1].ID)
	for _, c := range children {
		require.Equal(t, task.ModeExecute, c.Mode)
		require.NotNil(t, c.PlanGroupID)
		require.Equal(t, groupA, *c.PlanGroupID)
	}
}

func TestCreatePlanTask_UsesPlanMode(t *testing.T) {
	s := newTestStore(t)

	groupID, err := s.CreatePlanGroup("goal")
	require.NoError(t, err)

	taskID, err := s.CreatePlanTask("draft a plan for: goal", groupID)
	require.NoError(t, err)

	got, err := s.GetTask(taskID)
	require.NoError(t, err)
	require.Equal(t, task.ModePlan, got.Mode)
	require.NotNil(t, got.PlanGroupID)
	require.Equal(t, groupID, *got.PlanGroupID)
}
