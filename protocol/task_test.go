package protocol

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTaskManager_StartStop(t *testing.T) {
	require := require.New(t)

	mgr := NewTaskManager(context.Background(), nil)
	require.Equal(0, mgr.TaskCount())

	var iterations atomic.Int32
	var cleaned atomic.Bool

	err := mgr.Start("worker", func() bool {
		iterations.Add(1)
		time.Sleep(time.Millisecond)

		return true
	}, func() {
		cleaned.Store(true)
	})
	require.NoError(err)
	require.Equal(1, mgr.TaskCount())

	time.Sleep(20 * time.Millisecond)
	require.Positive(iterations.Load())

	mgr.Stop()
	mgr.Wait()

	require.Equal(0, mgr.TaskCount())
	require.True(cleaned.Load())
}

func TestTaskManager_TaskFuncReturnsFalse(t *testing.T) {
	require := require.New(t)

	mgr := NewTaskManager(context.Background(), nil)

	var runs atomic.Int32
	err := mgr.Start("one-shot", func() bool {
		runs.Add(1)

		return false
	}, nil)
	require.NoError(err)

	mgr.Wait()
	require.Equal(int32(1), runs.Load())
	require.Equal(0, mgr.TaskCount())
}

func TestTaskManager_PanicRecovery(t *testing.T) {
	require := require.New(t)

	mgr := NewTaskManager(context.Background(), nil)

	err := mgr.Start("panicky", func() bool {
		panic("boom")
	}, nil)
	require.NoError(err)

	// panic is recovered inside the loop and the task ends
	mgr.Wait()
	require.Equal(0, mgr.TaskCount())
}

func TestTaskManager_RestartAfterStop(t *testing.T) {
	require := require.New(t)

	mgr := NewTaskManager(context.Background(), nil)

	require.NoError(mgr.Start("first", func() bool { return true }, nil))
	mgr.Stop()
	mgr.Wait()

	// Wait recreates the context, so new tasks can be started again.
	var ran atomic.Bool
	require.NoError(mgr.Start("second", func() bool {
		ran.Store(true)

		return false
	}, nil))

	mgr.Wait()
	require.True(ran.Load())
}

func TestTaskManager_StartAfterParentCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	mgr := NewTaskManager(ctx, nil)
	cancel()

	err := mgr.Start("late", func() bool { return true }, nil)
	require.ErrorIs(t, err, ErrManagerStopped)
}
