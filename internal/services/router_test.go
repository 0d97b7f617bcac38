package services

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shellmux/shellmux/internal/models"
)

// recordSub is an in-memory Subscriber that records everything it receives.
type recordSub struct {
	mu     sync.Mutex
	events []recordedEvent
	fail   bool
}

type recordedEvent struct {
	event   string
	payload any
}

func (s *recordSub) SendEvent(event string, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("send failed")
	}
	s.events = append(s.events, recordedEvent{event: event, payload: payload})
	return nil
}

func (s *recordSub) recorded() []recordedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]recordedEvent, len(s.events))
	copy(out, s.events)
	return out
}

// outputs returns the output strings of every pty-output event received.
func (s *recordSub) outputs() []string {
	var out []string
	for _, ev := range s.recorded() {
		if ev.event != models.EventPTYOutput {
			continue
		}
		if p, ok := ev.payload.(models.OutputPayload); ok {
			out = append(out, p.Output)
		}
	}
	return out
}

func TestRouterIsolation(t *testing.T) {
	router := NewRouter()
	subA := &recordSub{}
	subB := &recordSub{}

	router.Join(subA, "sess-a")
	router.Join(subB, "sess-b")

	router.Emit("sess-a", models.EventPTYOutput, models.OutputPayload{SessionID: "sess-a", Output: "for A only"})

	require.Len(t, subA.recorded(), 1)
	assert.Equal(t, []string{"for A only"}, subA.outputs())
	assert.Empty(t, subB.recorded(), "connection joined only to sess-b must never see sess-a output")
}

func TestRouterMultiRoomMembership(t *testing.T) {
	router := NewRouter()
	both := &recordSub{}

	router.Join(both, "sess-a")
	router.Join(both, "sess-b")

	router.Emit("sess-a", models.EventPTYOutput, models.OutputPayload{SessionID: "sess-a", Output: "a"})
	router.Emit("sess-b", models.EventPTYOutput, models.OutputPayload{SessionID: "sess-b", Output: "b"})

	assert.Equal(t, []string{"a", "b"}, both.outputs())
}

func TestRouterEmitToEmptyRoom(t *testing.T) {
	router := NewRouter()
	// No members, no panic, output dropped.
	router.Emit("nobody-home", models.EventPTYOutput, models.OutputPayload{SessionID: "nobody-home", Output: "x"})
	assert.Equal(t, 0, router.Members("nobody-home"))
}

func TestRouterLeave(t *testing.T) {
	router := NewRouter()
	sub := &recordSub{}

	router.Join(sub, "sess-a")
	require.Equal(t, 1, router.Members("sess-a"))

	router.Leave(sub, "sess-a")
	assert.Equal(t, 0, router.Members("sess-a"))

	router.Emit("sess-a", models.EventPTYOutput, models.OutputPayload{SessionID: "sess-a", Output: "late"})
	assert.Empty(t, sub.recorded())

	// Leaving a room you are not in is a no-op.
	router.Leave(sub, "sess-a")
	router.Leave(sub, "never-joined")
}

func TestRouterLeaveAll(t *testing.T) {
	router := NewRouter()
	sub := &recordSub{}
	other := &recordSub{}

	router.Join(sub, "sess-a")
	router.Join(sub, "sess-b")
	router.Join(other, "sess-a")

	router.LeaveAll(sub)

	assert.Equal(t, 1, router.Members("sess-a"))
	assert.Equal(t, 0, router.Members("sess-b"))

	router.Emit("sess-a", models.EventPTYOutput, models.OutputPayload{SessionID: "sess-a", Output: "x"})
	assert.Empty(t, sub.recorded())
	assert.Len(t, other.recorded(), 1)
}

func TestRouterDropSession(t *testing.T) {
	router := NewRouter()
	sub := &recordSub{}

	router.Join(sub, "sess-a")
	router.DropSession("sess-a")

	assert.Equal(t, 0, router.Members("sess-a"))
	router.Emit("sess-a", models.EventPTYOutput, models.OutputPayload{SessionID: "sess-a", Output: "x"})
	assert.Empty(t, sub.recorded())
}

func TestRouterDropsFailedConnections(t *testing.T) {
	router := NewRouter()
	healthy := &recordSub{}
	broken := &recordSub{fail: true}

	router.Join(healthy, "sess-a")
	router.Join(broken, "sess-a")
	router.Join(broken, "sess-b")

	router.Emit("sess-a", models.EventPTYOutput, models.OutputPayload{SessionID: "sess-a", Output: "x"})

	// The failed connection is evicted from every room; the healthy one stays.
	assert.Equal(t, 1, router.Members("sess-a"))
	assert.Equal(t, 0, router.Members("sess-b"))
	assert.Len(t, healthy.recorded(), 1)
}

func TestRouterConcurrentEmitAndJoin(t *testing.T) {
	router := NewRouter()
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			sub := &recordSub{}
			router.Join(sub, "sess-a")
			router.Leave(sub, "sess-a")
		}()
		go func() {
			defer wg.Done()
			router.Emit("sess-a", models.EventPTYOutput, models.OutputPayload{SessionID: "sess-a", Output: "x"})
		}()
	}
	wg.Wait()
}
