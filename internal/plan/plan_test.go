package plan

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/orc-core/internal/store"
	"github.com/randalmurphal/orc-core/internal/task"
)

func newTestWorkflow(t *testing.T) (*Workflow, *store.Store, *int) {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	notifyCount := 0
	w := New(st, func() { notifyCount++ })
	return w, st, &notifyCount
}

func TestCreate_MakesGroupAndPlannerTask(t *testing.T) {
	w, st, notified := newTestWorkflow(t)

	groupID, plannerID, err := w.Create("ship the feature")
	require.NoError(t, err)

	pg, err := st.GetPlanGroup(groupID)
	require.NoError(t, err)
	require.Equal(t, task.PlanGroupPlanning, pg.Status)

	plannerTask, err := st.GetTask(plannerID)
	require.NoError(t, err)
	require.Equal(t, task.ModePlan, plannerTask.Mode)
	require.NotNil(t, plannerTask.PlanGroupID)
	require.Equal(t, groupID, *plannerTask.PlanGroupID)
	require.Equal(t, 1, *notified)
}

func TestParseOnComplete_FullJSONFromResultText(t *testing.T) {
	w, st, _ := newTestWorkflow(t)
	groupID, plannerID, err := w.Create("goal")
	require.NoError(t, err)

	resultText := `{"summary":"s","steps":[{"title":"one","description":"d","prompt":"do it"}]}`
	require.NoError(t, st.UpdateTaskFields(plannerID, store.TaskUpdate{ResultText: &resultText}))
	plannerTask, err := st.GetTask(plannerID)
	require.NoError(t, err)

	require.NoError(t, w.ParseOnComplete(plannerTask))

	pg, err := st.GetPlanGroup(groupID)
	require.NoError(t, err)
	require.Equal(t, task.PlanGroupReviewing, pg.Status)
	require.JSONEq(t, resultText, pg.PlanText)
}

func TestParseOnComplete_StripsFencedCodeBlock(t *testing.T) {
	w, st, _ := newTestWorkflow(t)
	groupID, plannerID, err := w.Create("goal")
	require.NoError(t, err)

	resultText := "Here is the plan:\n```json\n{\"summary\":\"s\",\"steps\":[]}\n```\nThanks."
	require.NoError(t, st.UpdateTaskFields(plannerID, store.TaskUpdate{ResultText: &resultText}))
	plannerTask, err := st.GetTask(plannerID)
	require.NoError(t, err)

	require.NoError(t, w.ParseOnComplete(plannerTask))

	pg, err := st.GetPlanGroup(groupID)
	require.NoError(t, err)
	require.Equal(t, task.PlanGroupReviewing, pg.Status)
	require.JSONEq(t, `{"summary":"s","steps":[]}`, pg.PlanText)
}

func TestParseOnComplete_UnparseableTextStillTransitionsToReviewing(t *testing.T) {
	w, st, _ := newTestWorkflow(t)
	groupID, plannerID, err := w.Create("goal")
	require.NoError(t, err)

	resultText := "I couldn't come up with a plan, sorry."
	require.NoError(t, st.UpdateTaskFields(plannerID, store.TaskUpdate{ResultText: &resultText}))
	plannerTask, err := st.GetTask(plannerID)
	require.NoError(t, err)

	require.NoError(t, w.ParseOnComplete(plannerTask))

	pg, err := st.GetPlanGroup(groupID)
	require.NoError(t, err)
	require.Equal(t, task.PlanGroupReviewing, pg.Status)
	require.Equal(t, resultText, pg.PlanText)
}

func TestParseOnComplete_FallsBackToLatestResultEvent(t *testing.T) {
	w, st, _ := newTestWorkflow(t)
	groupID, plannerID, err := w.Create("goal")
	require.NoError(t, err)

	_, err = st.AppendEvent(plannerID, task.EventResult, []byte(`{"result":"{\"summary\":\"s\",\"steps\":[]}"}`))
	require.NoError(t, err)

	plannerTask, err := st.GetTask(plannerID)
	require.NoError(t, err)

	require.NoError(t, w.ParseOnComplete(plannerTask))

	pg, err := st.GetPlanGroup(groupID)
	require.NoError(t, err)
	require.JSONEq(t, `{"summary":"s","steps":[]}`, pg.PlanText)
}

func TestEdit_OnlyPermittedWhileReviewing(t *testing.T) {
	w, st, _ := newTestWorkflow(t)
	groupID, _, err := w.Create("goal")
	require.NoError(t, err)

	err = w.Edit(groupID, []Step{{Title: "new step", Prompt: "do x"}})
	require.Error(t, err, "group is still planning, not reviewing")

	require.NoError(t, st.SetPlanText(groupID, `{"summary":"s","steps":[]}`))
	require.NoError(t, st.SetPlanGroupStatus(groupID, task.PlanGroupReviewing))

	require.NoError(t, w.Edit(groupID, []Step{{Title: "new step", Prompt: "do x"}}))

	pg, err := st.GetPlanGroup(groupID)
	require.NoError(t, err)
	require.JSONEq(t, `{"summary":"s","steps":[{"title":"new step","description":"","prompt":"do x"}]}`, pg.PlanText)
}

func TestApprove_EnqueuesStepsWithDescendingPriority(t *testing.T) {
	w, st, notified := newTestWorkflow(t)
	groupID, _, err := w.Create("goal")
	require.NoError(t, err)

	planText := `{"summary":"s","steps":[
		{"title":"first","description":"d1","prompt":"do first"},
		{"title":"second","description":"d2","prompt":"do second"}
	]}`
	require.NoError(t, st.SetPlanText(groupID, planText))
	require.NoError(t, st.SetPlanGroupStatus(groupID, task.PlanGroupReviewing))

	before := *notified
	ids, err := w.Approve(groupID)
	require.NoError(t, err)
	require.Len(t, ids, 2)
	require.Greater(t, *notified, before)

	t1, err := st.GetTask(ids[0])
	require.NoError(t, err)
	require.Contains(t, t1.Prompt, "Plan Step 1: first")
	require.Contains(t, t1.Prompt, "do first")
	require.Equal(t, 2, t1.Priority)

	t2, err := st.GetTask(ids[1])
	require.NoError(t, err)
	require.Equal(t, 1, t2.Priority)

	pg, err := st.GetPlanGroup(groupID)
	require.NoError(t, err)
	require.Equal(t, task.PlanGroupExecuting, pg.Status)
}

func TestApprove_SynthesizesSingleStepWhenPlanTextUnparseable(t *testing.T) {
	w, st, _ := newTestWorkflow(t)
	groupID, _, err := w.Create("goal")
	require.NoError(t, err)

	require.NoError(t, st.SetPlanText(groupID, "just do the thing, no structure"))
	require.NoError(t, st.SetPlanGroupStatus(groupID, task.PlanGroupReviewing))

	ids, err := w.Approve(groupID)
	require.NoError(t, err)
	require.Len(t, ids, 1)

	t1, err := st.GetTask(ids[0])
	require.NoError(t, err)
	require.Contains(t, t1.Prompt, "just do the thing, no structure")
}

func TestCompletionCheck_CompletesGroupOnlyWhenAllExecuteChildrenTerminal(t *testing.T) {
	w, st, _ := newTestWorkflow(t)
	groupID, err := st.CreatePlanGroup("goal")
	require.NoError(t, err)

	t1, err := st.CreateExecuteTask("step1", 2, groupID)
	require.NoError(t, err)
	t2, err := st.CreateExecuteTask("step2", 1, groupID)
	require.NoError(t, err)

	require.NoError(t, w.CompletionCheck(groupID))
	pg, err := st.GetPlanGroup(groupID)
	require.NoError(t, err)
	require.NotEqual(t, task.PlanGroupCompleted, pg.Status)

	require.NoError(t, st.UpdateTaskFields(t1, store.TaskUpdate{Status: statusPtr(task.StatusCompleted)}))
	require.NoError(t, w.CompletionCheck(groupID))
	pg, err = st.GetPlanGroup(groupID)
	require.NoError(t, err)
	require.NotEqual(t, task.PlanGroupCompleted, pg.Status, "one child still pending")

	require.NoError(t, st.UpdateTaskFields(t2, store.TaskUpdate{Status: statusPtr(task.StatusFailed)}))
	require.NoError(t, w.CompletionCheck(groupID))
	pg, err = st.GetPlanGroup(groupID)
	require.NoError(t, err)
	require.Equal(t, task.PlanGroupCompleted, pg.Status)
	require.NotNil(t, pg.FinishedAt)
}

func statusPtr(s task.Status) *task.Status { return &s }
