package pool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTimerPool(t *testing.T) {
	require := require.New(t)

	t.Run("Get and Put", func(t *testing.T) {
		timer := GetTimer(time.Millisecond)
		require.NotNil(timer)

		select {
		case <-timer.C:
		case <-time.After(time.Second):
			t.Fatal("timer did not fire")
		}

		PutTimer(timer)
	})

	t.Run("Reuse after Put", func(t *testing.T) {
		timer := GetTimer(time.Hour)
		PutTimer(timer)

		// A reused timer must honor the new duration, not the old one.
		timer = GetTimer(time.Millisecond)
		select {
		case <-timer.C:
		case <-time.After(time.Second):
			t.Fatal("reused timer did not fire with new duration")
		}
		PutTimer(timer)
	})

	t.Run("Put fired timer", func(t *testing.T) {
		timer := GetTimer(time.Millisecond)
		<-timer.C
		// Putting back a fired timer must not leave a stale value in the channel.
		PutTimer(timer)

		timer = GetTimer(50 * time.Millisecond)
		select {
		case <-timer.C:
			t.Fatal("timer fired early from stale channel value")
		case <-time.After(10 * time.Millisecond):
		}
		PutTimer(timer)
	})
}
