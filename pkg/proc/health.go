package proc

import (
	"fmt"
	"time"
)

// Start launches the health loop. Every HealthCheckInterval it samples
// process liveness, heartbeat freshness, and resource usage for all
// managed processes. It runs until Stop is called.
func (s *Supervisor) Start() {
	s.loopMu.Lock()
	defer s.loopMu.Unlock()
	if s.stop != nil {
		return
	}
	s.stop = make(chan struct{})
	s.loopDone = make(chan struct{})
	go s.healthLoop(s.stop, s.loopDone)
	s.logger.Info().
		Dur("interval", s.cfg.HealthCheckInterval).
		Msg("Health loop started")
}

// Stop halts the health loop and waits for the current pass to finish.
func (s *Supervisor) Stop() {
	s.loopMu.Lock()
	defer s.loopMu.Unlock()
	if s.stop == nil {
		return
	}
	close(s.stop)
	<-s.loopDone
	s.stop = nil
	s.loopDone = nil
}

func (s *Supervisor) healthLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.cfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.checkAll()
		}
	}
}

func (s *Supervisor) checkAll() {
	s.mu.RLock()
	handles := make([]*Handle, 0, len(s.handles))
	for _, h := range s.handles {
		handles = append(handles, h)
	}
	s.mu.RUnlock()

	for _, h := range handles {
		s.checkOne(h)
	}
}

func (s *Supervisor) checkOne(h *Handle) {
	if h.State().Terminal() {
		return
	}

	if !h.Alive() {
		s.recordCrash(h, "process exited")
		return
	}

	// A busy agent that has gone quiet past the stale window is treated
	// as crashed even though the OS process lingers.
	if s.cfg.HeartbeatStaleAfter > 0 && h.State() == StateBusy {
		if age := time.Since(h.LastHeartbeat()); age > s.cfg.HeartbeatStaleAfter {
			h.setFailure(fmt.Errorf("%w: heartbeat stale for %s", ErrProcessCrashed, age.Round(time.Second)))
			s.statsMu.Lock()
			s.crashed++
			s.statsMu.Unlock()
			s.logger.Warn().
				Str("agent_id", h.agentID.String()).
				Dur("age", age).
				Msg("Heartbeat stale, marking failed")
			go s.stopProcess(h)
			return
		}
	}

	if s.sampler == nil {
		return
	}
	usage, err := s.sampler.Sample(h.pid)
	if err != nil {
		s.logger.Debug().Err(err).
			Str("agent_id", h.agentID.String()).
			Int("pid", h.pid).
			Msg("Usage sample failed")
		return
	}
	h.setUsage(usage)

	limits := h.Limits()
	var breach string
	switch {
	case limits.MaxMemoryBytes > 0 && usage.MemoryBytes > limits.MaxMemoryBytes:
		breach = fmt.Sprintf("memory %d bytes exceeds limit %d", usage.MemoryBytes, limits.MaxMemoryBytes)
	case limits.CPUPercent > 0 && usage.CPUPercent > limits.CPUPercent:
		breach = fmt.Sprintf("cpu %.1f%% exceeds limit %.1f%%", usage.CPUPercent, limits.CPUPercent)
	case limits.MaxOpenFiles > 0 && usage.OpenFiles > limits.MaxOpenFiles:
		breach = fmt.Sprintf("%d open files exceeds limit %d", usage.OpenFiles, limits.MaxOpenFiles)
	}
	if breach == "" {
		return
	}

	h.setFailure(fmt.Errorf("%w: %s", ErrResourceLimitExceeded, breach))

	s.statsMu.Lock()
	s.breached++
	s.statsMu.Unlock()

	s.logger.Warn().
		Str("agent_id", h.agentID.String()).
		Int("pid", h.pid).
		Str("breach", breach).
		Msg("Resource limit breached, terminating process")

	// Graceful first; stopProcess escalates to kill after the grace
	// period on its own.
	go s.stopProcess(h)
}
