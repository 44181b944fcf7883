package job

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateJobStartsPending(t *testing.T) {
	m := NewManager(nil)
	id := m.CreateJob(TypeSingleDocument)

	got, err := m.GetJob(id)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, 0, got.Progress)
	assert.Nil(t, got.StartedAt)
}

func TestStartCompleteTransition(t *testing.T) {
	m := NewManager(nil)
	id := m.CreateJob(TypeSingleDocument)

	require.NoError(t, m.Start(id))
	got, _ := m.GetJob(id)
	assert.Equal(t, StatusRunning, got.Status)
	require.NotNil(t, got.StartedAt)

	require.NoError(t, m.Complete(id, "ok"))
	got, _ = m.GetJob(id)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, 100, got.Progress)
	require.NotNil(t, got.CompletedAt)
	assert.Equal(t, "ok", got.Result)
}

func TestCompleteFromTerminalStateErrors(t *testing.T) {
	m := NewManager(nil)
	id := m.CreateJob(TypeSingleDocument)
	require.NoError(t, m.Start(id))
	require.NoError(t, m.Complete(id, nil))

	err := m.Complete(id, nil)
	assert.Error(t, err)
}

func TestCancelFromTerminalStateIsNoop(t *testing.T) {
	m := NewManager(nil)
	id := m.CreateJob(TypeSingleDocument)
	require.NoError(t, m.Start(id))
	require.NoError(t, m.Complete(id, nil))

	cancelled, err := m.CancelJob(id)
	require.NoError(t, err)
	assert.False(t, cancelled)
}

func TestCancelPendingJob(t *testing.T) {
	m := NewManager(nil)
	id := m.CreateJob(TypeSingleDocument)

	cancelled, err := m.CancelJob(id)
	require.NoError(t, err)
	assert.True(t, cancelled)

	got, _ := m.GetJob(id)
	assert.Equal(t, StatusCancelled, got.Status)
}

func TestUpdateProgressClamps(t *testing.T) {
	m := NewManager(nil)
	id := m.CreateJob(TypeSingleDocument)

	require.NoError(t, m.UpdateProgress(id, -10))
	got, _ := m.GetJob(id)
	assert.Equal(t, 0, got.Progress)

	require.NoError(t, m.UpdateProgress(id, 150))
	got, _ = m.GetJob(id)
	assert.Equal(t, 100, got.Progress)
}

func TestGetJobUnknownID(t *testing.T) {
	m := NewManager(nil)
	_, err := m.GetJob("missing")
	assert.Error(t, err)
	var notFound *ErrNotFound
	assert.ErrorAs(t, err, &notFound)
}

func TestListJobsReverseChronological(t *testing.T) {
	m := NewManager(nil)
	first := m.CreateJob(TypeSingleDocument)
	second := m.CreateJob(TypeSingleDocument)
	third := m.CreateJob(TypeBatchProcessing)

	jobs := m.ListJobs(0, 0)
	require.Len(t, jobs, 3)
	assert.Equal(t, third, jobs[0].ID)
	assert.Equal(t, second, jobs[1].ID)
	assert.Equal(t, first, jobs[2].ID)
}

func TestListJobsLimitAndOffset(t *testing.T) {
	m := NewManager(nil)
	for i := 0; i < 5; i++ {
		m.CreateJob(TypeSingleDocument)
	}

	jobs := m.ListJobs(2, 1)
	assert.Len(t, jobs, 2)
}

func TestJobCount(t *testing.T) {
	m := NewManager(nil)
	assert.Equal(t, 0, m.JobCount())
	m.CreateJob(TypeSingleDocument)
	m.CreateJob(TypeSingleDocument)
	assert.Equal(t, 2, m.JobCount())
}
