package services

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shellmux/shellmux/internal/models"
)

// startPump wires a session straight into a pump, bypassing the registry, so
// tests can drive the loop directly.
func startPump(t *testing.T, fb *fakeBackend, router *Router) (*models.TerminalSession, *OutputPump) {
	t.Helper()
	session := models.NewTerminalSession("pump0001", "fakesh", nil, 24, 80)
	require.NoError(t, fb.StartProcess(session))

	pump := newOutputPump(session, fb, router, 2*time.Millisecond, 4096)
	go func() {
		pump.run()
		close(pump.done)
	}()
	t.Cleanup(func() {
		session.MarkInactive()
		<-pump.Done()
	})
	return session, pump
}

func TestPumpForwardsOutputInOrder(t *testing.T) {
	fb := newFakeBackend()
	router := NewRouter()
	sub := &recordSub{}

	session, _ := startPump(t, fb, router)
	router.Join(sub, session.ID)

	want := make([]string, 0, 5)
	for i := 0; i < 5; i++ {
		chunk := fmt.Sprintf("chunk-%d\n", i)
		want = append(want, chunk)
		fb.pushOutput(session.ID, []byte(chunk))
	}

	require.Eventually(t, func() bool {
		return len(sub.outputs()) == len(want)
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, want, sub.outputs())
}

func TestPumpStopsWhenSessionInactive(t *testing.T) {
	fb := newFakeBackend()
	router := NewRouter()

	session, pump := startPump(t, fb, router)

	session.MarkInactive()
	select {
	case <-pump.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("pump did not stop after session was marked inactive")
	}
	assert.False(t, pump.deathDetected)
}

func TestPumpDetectsDeathAndDrains(t *testing.T) {
	fb := newFakeBackend()
	router := NewRouter()
	sub := &recordSub{}

	session, pump := startPump(t, fb, router)
	router.Join(sub, session.ID)

	fb.pushOutput(session.ID, []byte("goodbye"))
	fb.kill(session.ID, 0)

	select {
	case <-pump.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("pump did not stop after process death")
	}

	assert.True(t, pump.deathDetected)
	assert.Equal(t, []string{"goodbye"}, sub.outputs(), "buffered output must be drained before the pump exits")
}

func TestPumpOutputRefreshesActivity(t *testing.T) {
	fb := newFakeBackend()
	router := NewRouter()

	session, _ := startPump(t, fb, router)

	stale := time.Now().Add(-time.Hour)
	session.SetLastActivity(stale)

	fb.pushOutput(session.ID, []byte("tick"))

	require.Eventually(t, func() bool {
		return session.LastActive().After(stale)
	}, 2*time.Second, 5*time.Millisecond, "forwarded output must count as session activity")
}
