package services

import (
	"runtime"
	"time"

	"github.com/shellmux/shellmux/internal/backend"
	"github.com/shellmux/shellmux/internal/logger"
	"github.com/shellmux/shellmux/internal/models"
)

// OutputPump is the per-session background loop that moves process output to
// the router. Exactly one pump exists per active session; its lifetime is
// tied to the session's active flag, and Destroy joins on done before
// releasing the backend handle.
//
// Buffering is bounded to one read chunk: a slow consumer delays delivery
// but never causes the pump to accumulate unread output, because the kernel
// PTY buffer provides the upstream back-pressure.
type OutputPump struct {
	session *models.TerminalSession
	backend backend.Backend
	router  *Router

	pollTimeout time.Duration
	chunkSize   int

	done          chan struct{}
	deathDetected bool
}

func newOutputPump(s *models.TerminalSession, b backend.Backend, r *Router, pollTimeout time.Duration, chunkSize int) *OutputPump {
	return &OutputPump{
		session:     s,
		backend:     b,
		router:      r,
		pollTimeout: pollTimeout,
		chunkSize:   chunkSize,
		done:        make(chan struct{}),
	}
}

// Done is closed when the pump loop has exited.
func (p *OutputPump) Done() <-chan struct{} {
	return p.done
}

// run polls the backend until the session is destroyed or the process dies.
// Backend errors never escape: transient ones read as "no data" and real
// death is confirmed through IsAlive.
func (p *OutputPump) run() {
	s := p.session
	for s.Active() {
		ready, err := p.backend.Poll(s, p.pollTimeout)
		if err != nil {
			// Handle already released (destroy racing the pump); just exit.
			logger.Debugf("Pump for %s stopping on poll error: %v", s.ID, err)
			return
		}

		if ready {
			if p.forward() {
				runtime.Gosched()
				continue
			}
		}

		if !p.backend.IsAlive(s) {
			p.drain()
			p.deathDetected = true
			logger.Debugf("💀 Session %s process exited", s.ID)
			return
		}

		runtime.Gosched()
	}
}

// forward moves one chunk of output to the room. Returns false when nothing
// was read.
func (p *OutputPump) forward() bool {
	data, err := p.backend.ReadOutput(p.session, p.chunkSize)
	if err != nil || len(data) == 0 {
		return false
	}
	p.session.Touch()
	p.router.Emit(p.session.ID, models.EventPTYOutput, models.OutputPayload{
		SessionID: p.session.ID,
		Output:    string(data),
	})
	return true
}

// drain forwards whatever output the dead process left behind, so the final
// bytes reach clients before session_closed does.
func (p *OutputPump) drain() {
	for p.forward() {
	}
}
