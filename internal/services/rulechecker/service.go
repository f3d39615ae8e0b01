// Package rulechecker runs the rule enforcement checker as an appliance
// service: it builds the set lister and resolver from configuration,
// restarts the reconciler on reload and hands re-enforcement requests to the
// configured command.
package rulechecker

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"grimm.is/rulecheck/internal/clock"
	"grimm.is/rulecheck/internal/config"
	"grimm.is/rulecheck/internal/events"
	"grimm.is/rulecheck/internal/firewall"
	"grimm.is/rulecheck/internal/logging"
	"grimm.is/rulecheck/internal/metrics"
	"grimm.is/rulecheck/internal/rulecheck"
	"grimm.is/rulecheck/internal/services"
	"grimm.is/rulecheck/internal/services/dns"
)

// Host is what the surrounding appliance provides.
type Host struct {
	Switch   rulecheck.Switch
	Policies rulecheck.PolicySource
	Schedule rulecheck.ScheduleEvaluator
	// Mappings serves domain policies when the resolver is "mapping".
	Mappings rulecheck.DomainResolver
}

// Service implements services.Service.
type Service struct {
	mu      sync.RWMutex
	logger  *logging.Logger
	hub     *events.Hub
	ready   *events.ReadySignal
	host    Host
	metrics *metrics.Registry
	clock   clock.Clock
	runner  firewall.CommandRunner

	newLister   func(backend, table string) (firewall.SetLister, error)
	newResolver func(cfg *config.DNS, logger *logging.Logger) (rulecheck.DomainResolver, error)

	cfg     *config.RuleCheck
	rec     *rulecheck.Reconciler
	cancel  context.CancelFunc
	running bool
	lastErr error
}

var _ services.Service = (*Service)(nil)

// NewService creates the service. It starts watching hub for the policy
// initialization event right away so that a later Start does not miss it.
func NewService(hub *events.Hub, host Host, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.WithComponent("rulecheck")
	}
	return &Service{
		logger:    logger,
		hub:       hub,
		ready:     events.NewReadySignal(hub),
		host:      host,
		metrics:   metrics.Get(),
		clock:     &clock.RealClock{},
		runner:    firewall.DefaultCommandRunner,
		newLister: firewall.NewSetLister,
		newResolver: func(cfg *config.DNS, logger *logging.Logger) (rulecheck.DomainResolver, error) {
			return dns.NewResolver(cfg, logger)
		},
	}
}

func (s *Service) Name() string {
	return "RuleCheck"
}

// Start builds a reconciler from the current config and arms it. It is a
// no-op when the checker is disabled or already running.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}
	if s.cfg == nil || !s.cfg.IsEnabled() {
		s.logger.Info("rule check disabled")
		return nil
	}

	rec, err := s.build()
	if err != nil {
		s.lastErr = err
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	sink := newEnforcementSink(s.hub, s.cfg.ReenforceCommand, s.runner, s.logger.WithComponent("reenforce"))
	go sink.Run(ctx)
	if err := rec.Start(ctx, s.ready); err != nil {
		cancel()
		s.lastErr = err
		return err
	}

	s.rec = rec
	s.cancel = cancel
	s.running = true
	s.lastErr = nil
	s.logger.Info("rule check started",
		"backend", s.cfg.Backend,
		"interval", s.cfg.IntervalDuration(),
		"policies_ready", s.ready.Fired())
	return nil
}

func (s *Service) build() (*rulecheck.Reconciler, error) {
	cfg := s.cfg

	lister, err := s.newLister(cfg.Backend, cfg.Table)
	if err != nil {
		return nil, fmt.Errorf("failed to create set lister: %w", err)
	}
	var resolver rulecheck.DomainResolver
	if cfg.Resolver == config.ResolverMapping {
		if s.host.Mappings == nil {
			return nil, fmt.Errorf("resolver %q needs a domain mapping store", cfg.Resolver)
		}
		resolver = s.host.Mappings
	} else {
		resolver, err = s.newResolver(cfg.DNS, s.logger.WithComponent("dns"))
		if err != nil {
			return nil, fmt.Errorf("failed to create resolver: %w", err)
		}
	}

	return rulecheck.New(rulecheck.Config{
		Interval:      cfg.IntervalDuration(),
		StartupDelay:  cfg.StartupDelayDuration(),
		SelfDomains:   cfg.SelfDomains,
		SelfAddresses: cfg.SelfAddresses,
	}, rulecheck.Deps{
		Switch:   s.host.Switch,
		Policies: s.host.Policies,
		Schedule: s.host.Schedule,
		Resolver: resolver,
		Lister:   lister,
		Enforcer: rulecheck.NewHubEnforcer(s.hub),
		Clock:    s.clock,
		Logger:   s.logger,
		Metrics:  s.metrics,
		Hub:      s.hub,
	})
}

// Stop cancels the reconciler. A pass in flight finishes on its own.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
	return nil
}

func (s *Service) stopLocked() {
	if !s.running {
		return
	}
	s.cancel()
	s.rec = nil
	s.running = false
}

// Reload applies cfg. The reconciler is rebuilt only when the rule_check
// block changed; the log level is applied either way.
func (s *Service) Reload(cfg *config.Config) (bool, error) {
	if cfg.Logging != nil && cfg.Logging.Level != "" {
		if level, err := logging.ParseLevel(cfg.Logging.Level); err == nil {
			s.logger.SetLevel(level)
		}
	}

	s.mu.Lock()
	if reflect.DeepEqual(s.cfg, cfg.RuleCheck) && (s.running || s.cfg == nil || !s.cfg.IsEnabled()) {
		s.mu.Unlock()
		return false, nil
	}
	s.stopLocked()
	s.cfg = cfg.RuleCheck
	s.mu.Unlock()

	return true, s.Start(context.Background())
}

// Status returns status
func (s *Service) Status() services.ServiceStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := services.ServiceStatus{
		Name:    s.Name(),
		Running: s.running,
	}
	if s.rec != nil {
		st.State = s.rec.State().String()
	}
	if s.lastErr != nil {
		st.Error = s.lastErr.Error()
	}
	return st
}
