// Package safety gates operation starts behind a process-wide
// emergency stop, a sliding-window start rate limit, and a hard
// per-operation cost ceiling. Every start request passes through a
// single serialized permission check so concurrent starts cannot race
// the flag or each other's rate-limit accounting.
package safety

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Denial is the error returned when a permission check refuses an
// operation. Reason always names the policy that fired.
type Denial struct {
	Reason string
	Actor  string
}

func (d *Denial) Error() string {
	return fmt.Sprintf("operation denied for %s: %s", d.Actor, d.Reason)
}

// IsDenial unwraps err looking for a Denial.
func IsDenial(err error) (*Denial, bool) {
	var d *Denial
	if errors.As(err, &d) {
		return d, true
	}
	return nil, false
}

// Config tunes the safety gates. Zero values fall back to defaults.
type Config struct {
	// Window is the sliding window for start-rate accounting.
	Window time.Duration
	// MaxStartsPerWindow caps starts per actor within the window.
	MaxStartsPerWindow int
	// MaxOperationCostUSD is the hard per-operation cost ceiling.
	// Applies even when no budget is configured.
	MaxOperationCostUSD float64
}

const (
	defaultWindow          = time.Hour
	defaultStartsPerWindow = 10
	defaultMaxOpCostUSD    = 100.0
)

// Status is a read-only view of the safety state.
type Status struct {
	EmergencyStopActive bool      `json:"emergency_stop_active"`
	StopReason          string    `json:"stop_reason,omitempty"`
	StopActor           string    `json:"stop_actor,omitempty"`
	StopTime            time.Time `json:"stop_time,omitempty"`

	Window              time.Duration `json:"window"`
	MaxStartsPerWindow  int           `json:"max_starts_per_window"`
	MaxOperationCostUSD float64       `json:"max_operation_cost_usd"`

	// RecentStarts maps actor to start attempts within the window.
	RecentStarts map[string]int `json:"recent_starts,omitempty"`
}

// Service is the single permission gate for operation starts.
type Service struct {
	mu sync.Mutex

	stopped    bool
	stopReason string
	stopActor  string
	stopTime   time.Time

	window          time.Duration
	maxStarts       int
	maxOpCostUSD    float64
	attemptsByActor map[string][]time.Time

	now    func() time.Time
	logger *slog.Logger
}

// NewService creates a safety service in the "not stopped" state.
func NewService(cfg Config, logger *slog.Logger) *Service {
	if cfg.Window <= 0 {
		cfg.Window = defaultWindow
	}
	if cfg.MaxStartsPerWindow <= 0 {
		cfg.MaxStartsPerWindow = defaultStartsPerWindow
	}
	if cfg.MaxOperationCostUSD <= 0 {
		cfg.MaxOperationCostUSD = defaultMaxOpCostUSD
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		window:          cfg.Window,
		maxStarts:       cfg.MaxStartsPerWindow,
		maxOpCostUSD:    cfg.MaxOperationCostUSD,
		attemptsByActor: make(map[string][]time.Time),
		now:             time.Now,
		logger:          logger,
	}
}

// CheckOperationPermission decides whether actor may start an
// operation with the given estimated cost. Checks apply in order:
// emergency stop, then rate limit, then cost ceiling. A granted check
// records one start attempt against the actor's window.
func (s *Service) CheckOperationPermission(actor string, estimatedCostUSD float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		s.logger.Warn("operation denied: emergency stop active",
			"actor", actor, "stop_reason", s.stopReason)
		return &Denial{
			Reason: fmt.Sprintf("emergency stop active: %s", s.stopReason),
			Actor:  actor,
		}
	}

	now := s.now()
	attempts := s.pruneLocked(actor, now)
	if len(attempts) >= s.maxStarts {
		s.logger.Warn("operation denied: rate limit exceeded",
			"actor", actor, "attempts", len(attempts), "window", s.window)
		return &Denial{
			Reason: fmt.Sprintf("rate limit exceeded: %d starts within %s (max %d)",
				len(attempts), s.window, s.maxStarts),
			Actor: actor,
		}
	}

	if estimatedCostUSD > s.maxOpCostUSD {
		s.logger.Warn("operation denied: cost ceiling exceeded",
			"actor", actor, "estimated_cost_usd", estimatedCostUSD,
			"ceiling_usd", s.maxOpCostUSD)
		return &Denial{
			Reason: fmt.Sprintf("cost ceiling exceeded: estimated $%.2f over per-operation limit $%.2f",
				estimatedCostUSD, s.maxOpCostUSD),
			Actor: actor,
		}
	}

	s.attemptsByActor[actor] = append(attempts, now)
	return nil
}

// ActivateEmergencyStop sets the process-wide stop flag. New starts
// are denied until deactivated; running operations are untouched.
func (s *Service) ActivateEmergencyStop(reason, actor string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	s.stopReason = reason
	s.stopActor = actor
	s.stopTime = s.now()
	s.logger.Error("emergency stop activated", "reason", reason, "actor", actor)
}

// DeactivateEmergencyStop clears the stop flag.
func (s *Service) DeactivateEmergencyStop(actor string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = false
	s.stopReason = ""
	s.stopActor = ""
	s.stopTime = time.Time{}
	s.logger.Info("emergency stop deactivated", "actor", actor)
}

// EmergencyStopActive reports whether the stop flag is set.
func (s *Service) EmergencyStopActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// Status returns a snapshot of the safety state.
func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	recent := make(map[string]int)
	for actor := range s.attemptsByActor {
		if n := len(s.pruneLocked(actor, now)); n > 0 {
			recent[actor] = n
		}
	}

	return Status{
		EmergencyStopActive: s.stopped,
		StopReason:          s.stopReason,
		StopActor:           s.stopActor,
		StopTime:            s.stopTime,
		Window:              s.window,
		MaxStartsPerWindow:  s.maxStarts,
		MaxOperationCostUSD: s.maxOpCostUSD,
		RecentStarts:        recent,
	}
}

// MaxOperationCost returns the configured per-operation ceiling.
func (s *Service) MaxOperationCost() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxOpCostUSD
}

// pruneLocked drops attempts outside the window and returns the rest.
// Lock held. Actors with no surviving attempts are removed from the
// map so the counter set does not grow unboundedly.
func (s *Service) pruneLocked(actor string, now time.Time) []time.Time {
	cutoff := now.Add(-s.window)
	attempts := s.attemptsByActor[actor]
	kept := attempts[:0]
	for _, at := range attempts {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	if len(kept) == 0 {
		delete(s.attemptsByActor, actor)
		return nil
	}
	s.attemptsByActor[actor] = kept
	return kept
}
