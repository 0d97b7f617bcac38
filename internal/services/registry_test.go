package services

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shellmux/shellmux/internal/backend"
	"github.com/shellmux/shellmux/internal/models"
)

func newTestRegistry(t *testing.T, maxSessions int) (*SessionRegistry, *fakeBackend, *Router) {
	t.Helper()
	b := newFakeBackend()
	router := NewRouter()
	reg := NewSessionRegistry(b, router, testConfig(maxSessions))
	t.Cleanup(reg.CloseAll)
	return reg, b, router
}

func createRequest() models.CreateSessionRequest {
	return models.CreateSessionRequest{Command: "fakesh", Rows: 24, Cols: 80}
}

func TestCreateRegistersSession(t *testing.T) {
	reg, fb, _ := newTestRegistry(t, 4)

	id, err := reg.Create(createRequest())
	require.NoError(t, err)
	require.NotEmpty(t, id)

	session, err := reg.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "fakesh", session.Command)
	assert.True(t, session.Active())
	assert.True(t, fb.IsAlive(session))
	assert.Equal(t, 1, reg.Count())
	assert.Contains(t, reg.ListActive(), id)
}

func TestCreateRejectsZeroSize(t *testing.T) {
	reg, _, _ := newTestRegistry(t, 4)

	_, err := reg.Create(models.CreateSessionRequest{Command: "fakesh", Rows: 0, Cols: 80})
	assert.ErrorIs(t, err, backend.ErrInvalidSize)

	_, err = reg.Create(models.CreateSessionRequest{Command: "fakesh", Rows: 24, Cols: 0})
	assert.ErrorIs(t, err, backend.ErrInvalidSize)

	assert.Equal(t, 0, reg.Count())
}

func TestCreateCapacityExceeded(t *testing.T) {
	reg, _, _ := newTestRegistry(t, 3)

	for i := 0; i < 3; i++ {
		_, err := reg.Create(createRequest())
		require.NoError(t, err)
	}

	_, err := reg.Create(createRequest())
	require.ErrorIs(t, err, ErrCapacityExceeded)
	assert.Equal(t, 3, reg.Count())

	// Destroying one frees a slot.
	ids := reg.ListActive()
	require.NoError(t, reg.Destroy(ids[0]))
	_, err = reg.Create(createRequest())
	assert.NoError(t, err)
}

func TestCreateStartFailureLeavesNoTrace(t *testing.T) {
	reg, fb, _ := newTestRegistry(t, 4)
	fb.failStart = true

	_, err := reg.Create(createRequest())
	require.ErrorIs(t, err, backend.ErrProcessStartFailed)
	assert.Equal(t, 0, reg.Count())
}

func TestConcurrentCreateAssignsUniqueIDs(t *testing.T) {
	reg, _, _ := newTestRegistry(t, 64)

	const n = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	ids := make(map[string]struct{})
	errs := make([]error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := reg.Create(createRequest())
			errs[i] = err
			if err == nil {
				mu.Lock()
				ids[id] = struct{}{}
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	assert.Len(t, ids, n, "every concurrent create must yield a distinct id")
	assert.Equal(t, n, reg.Count())
}

func TestGetUnknownSession(t *testing.T) {
	reg, _, _ := newTestRegistry(t, 4)

	_, err := reg.Get("nope1234")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestDestroyIsIdempotent(t *testing.T) {
	reg, fb, _ := newTestRegistry(t, 4)

	id, err := reg.Create(createRequest())
	require.NoError(t, err)
	session, err := reg.Get(id)
	require.NoError(t, err)

	require.NoError(t, reg.Destroy(id))
	assert.Equal(t, 0, reg.Count())
	assert.Equal(t, 1, fb.cleanupCount(id))
	assert.False(t, session.Active())

	// Second destroy of a gone session reports not found, nothing else.
	assert.ErrorIs(t, reg.Destroy(id), ErrSessionNotFound)
	assert.Equal(t, 1, fb.cleanupCount(id))
}

func TestConcurrentDestroyReleasesOnce(t *testing.T) {
	reg, fb, _ := newTestRegistry(t, 4)

	id, err := reg.Create(createRequest())
	require.NoError(t, err)

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = reg.Destroy(id)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			assert.ErrorIs(t, err, ErrSessionNotFound)
		}
	}
	assert.Equal(t, 1, fb.cleanupCount(id), "backend handle must be released exactly once")
	assert.Equal(t, 0, reg.Count())
}

func TestDestroyNotifiesRoom(t *testing.T) {
	reg, _, router := newTestRegistry(t, 4)

	id, err := reg.Create(createRequest())
	require.NoError(t, err)

	sub := &recordSub{}
	router.Join(sub, id)

	require.NoError(t, reg.Destroy(id))

	events := sub.recorded()
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, models.EventSessionClosed, last.event)
	closed, ok := last.payload.(models.SessionClosedPayload)
	require.True(t, ok)
	assert.Equal(t, id, closed.SessionID)
	// The fake kills a still-alive process with 137 on cleanup.
	assert.Equal(t, 137, closed.ExitCode)
	assert.Equal(t, 0, router.Members(id))
}

func TestProcessDeathTearsSessionDown(t *testing.T) {
	reg, fb, router := newTestRegistry(t, 4)

	id, err := reg.Create(createRequest())
	require.NoError(t, err)

	sub := &recordSub{}
	router.Join(sub, id)

	fb.pushOutput(id, []byte("last words"))
	fb.kill(id, 0)

	require.Eventually(t, func() bool {
		return reg.Count() == 0
	}, 2*time.Second, 5*time.Millisecond, "dead process must be reaped through the normal teardown path")

	events := sub.recorded()
	require.NotEmpty(t, events)

	// Buffered output is drained before the close notification.
	assert.Equal(t, []string{"last words"}, sub.outputs())
	last := events[len(events)-1]
	require.Equal(t, models.EventSessionClosed, last.event)
	closed := last.payload.(models.SessionClosedPayload)
	assert.Equal(t, 0, closed.ExitCode)
	assert.Equal(t, 1, fb.cleanupCount(id))
}

func TestDestroyRecordsHistory(t *testing.T) {
	reg, _, _ := newTestRegistry(t, 4)

	id, err := reg.Create(createRequest())
	require.NoError(t, err)
	require.NoError(t, reg.Destroy(id))

	closed, ok := reg.History().Get(id)
	require.True(t, ok, "destroyed session must be remembered")
	assert.Equal(t, id, closed.SessionID)
	assert.Equal(t, "fakesh", closed.Command)
	assert.Equal(t, 137, closed.ExitCode)

	recent := reg.History().Recent()
	require.Len(t, recent, 1)
	assert.Equal(t, id, recent[0].SessionID)

	_, ok = reg.History().Get("never-existed")
	assert.False(t, ok)
}

func TestCloseAllRefusesNewSessions(t *testing.T) {
	reg, fb, _ := newTestRegistry(t, 4)

	a, err := reg.Create(createRequest())
	require.NoError(t, err)
	b, err := reg.Create(createRequest())
	require.NoError(t, err)

	reg.CloseAll()

	assert.Equal(t, 0, reg.Count())
	assert.Equal(t, 1, fb.cleanupCount(a))
	assert.Equal(t, 1, fb.cleanupCount(b))

	_, err = reg.Create(createRequest())
	assert.ErrorIs(t, err, ErrRegistryClosed)
}
