// Package reconciliation keeps the stacks in step with the venue: it polls
// fills and status for working broker orders and completes finished order
// families.
package reconciliation

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"execution-core/internal/order"
)

// Stacks is the part of the stack handler the service drives.
type Stacks interface {
	WorkingBrokerOrders(ctx context.Context) ([]*order.BrokerOrder, error)
	PollBrokerFill(ctx context.Context, brokerID int64) error
	CompleteFinishedOrders(ctx context.Context) (int, error)
}

// Service handles periodic reconciliation
type Service struct {
	stacks       Stacks
	interval     time.Duration
	autoComplete bool
	log          *zap.Logger
	mu           sync.Mutex
	last         Report
}

// Report is the outcome of one pass.
type Report struct {
	Timestamp time.Time     `json:"timestamp"`
	Polled    int           `json:"polled"`
	Failures  []PollFailure `json:"failures,omitempty"`
	Completed int           `json:"completed"`
}

// PollFailure is a broker order whose fills could not be read.
type PollFailure struct {
	BrokerOrder int64  `json:"broker_order_id"`
	Error       string `json:"error"`
}

func NewService(stacks Stacks, interval time.Duration, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Service{
		stacks:       stacks,
		interval:     interval,
		autoComplete: true,
		log:          log.Named("reconciliation"),
	}
}

// SetAutoComplete enables or disables completing filled families.
func (s *Service) SetAutoComplete(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.autoComplete = enabled
	s.log.Info("auto-complete changed", zap.Bool("enabled", enabled))
}

// Start begins periodic reconciliation
func (s *Service) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				report, err := s.Reconcile(ctx)
				if err != nil {
					s.log.Error("reconciliation failed", zap.Error(err))
					continue
				}
				s.handleReport(report)
			case <-ctx.Done():
				return
			}
		}
	}()

	s.log.Info("reconciliation started", zap.Duration("interval", s.interval), zap.Bool("auto_complete", s.autoComplete))
}

// Reconcile runs one pass. Each working broker order gets its fills and its
// venue status checked, so orders the venue cancelled are archived. A broker
// order whose poll fails is reported and skipped; the others are still polled.
func (s *Service) Reconcile(ctx context.Context) (Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	report := Report{Timestamp: time.Now().UTC()}
	working, err := s.stacks.WorkingBrokerOrders(ctx)
	if err != nil {
		return report, err
	}
	for _, bo := range working {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		report.Polled++
		if err := s.stacks.PollBrokerFill(ctx, bo.ID); err != nil {
			report.Failures = append(report.Failures, PollFailure{BrokerOrder: bo.ID, Error: err.Error()})
		}
	}

	if s.autoComplete {
		n, err := s.stacks.CompleteFinishedOrders(ctx)
		report.Completed = n
		if err != nil {
			s.last = report
			return report, err
		}
	}
	s.last = report
	return report, nil
}

// Last returns the most recent report.
func (s *Service) Last() Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *Service) handleReport(report Report) {
	for _, f := range report.Failures {
		s.log.Warn("fill poll failed", zap.Int64("broker_order", f.BrokerOrder), zap.String("error", f.Error))
	}
	if report.Completed > 0 {
		s.log.Info("order families completed", zap.Int("count", report.Completed))
	}
	s.log.Debug("reconciliation pass", zap.Int("polled", report.Polled), zap.Int("failed", len(report.Failures)))
}
