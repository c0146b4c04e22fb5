package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fleetworthy/salesagent/pkg/observability"
	"github.com/fleetworthy/salesagent/pkg/registry"
	"github.com/xeipuuv/gojsonschema"
)

const (
	DefaultTimeout           = 30 * time.Second
	DefaultDegradedThreshold = 3
	DefaultDownThreshold     = 5
	DefaultHealthInterval    = 15 * time.Second
)

// serverEntry pairs a descriptor with its handler and compiled schemas.
// Descriptor fields are immutable after registration; health state is
// guarded by the entry mutex so invoke never holds the registry lock
// while a call is in flight.
type serverEntry struct {
	descriptor ServerDescriptor
	handler    Handler
	schemas    map[string]*gojsonschema.Schema

	mu                  sync.Mutex
	health              HealthStatus
	lastHeartbeat       time.Time
	consecutiveFailures int
	missedHeartbeats    int
}

func (e *serverEntry) healthStatus() HealthStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.health
}

func (e *serverEntry) recordSuccess() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.consecutiveFailures = 0
	e.missedHeartbeats = 0
	e.health = HealthUp
	e.lastHeartbeat = time.Now()
}

func (e *serverEntry) recordFailure() HealthStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.consecutiveFailures++
	switch {
	case e.consecutiveFailures >= e.descriptor.DownThreshold:
		e.health = HealthDown
	case e.consecutiveFailures >= e.descriptor.DegradedThreshold:
		e.health = HealthDegraded
	}
	return e.health
}

func (e *serverEntry) recordHeartbeat(ok bool) HealthStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ok {
		e.missedHeartbeats = 0
		e.consecutiveFailures = 0
		e.health = HealthUp
		e.lastHeartbeat = time.Now()
	} else {
		e.missedHeartbeats++
		switch {
		case e.missedHeartbeats >= e.descriptor.DownThreshold:
			e.health = HealthDown
		case e.missedHeartbeats >= e.descriptor.DegradedThreshold:
			e.health = HealthDegraded
		}
	}
	return e.health
}

// snapshot returns a copy of the descriptor with current health fields.
func (e *serverEntry) snapshot() ServerDescriptor {
	e.mu.Lock()
	defer e.mu.Unlock()
	descriptor := e.descriptor
	descriptor.Health = e.health
	descriptor.LastHeartbeat = e.lastHeartbeat
	return descriptor
}

// Service is the MCP service layer: a registry of tool servers plus the
// uniform schema-validated dispatch surface agents call through.
type Service struct {
	servers *registry.BaseRegistry[*serverEntry]
	metrics *observability.Metrics

	healthCancel context.CancelFunc
	healthDone   chan struct{}
	healthOnce   sync.Once
}

type ServiceOption func(*Service)

func WithMetrics(metrics *observability.Metrics) ServiceOption {
	return func(s *Service) {
		s.metrics = metrics
	}
}

func NewService(opts ...ServiceOption) *Service {
	s := &Service{
		servers: registry.NewBaseRegistry[*serverEntry](),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds or replaces a tool server. A malformed capability schema
// fails with ValidationError and leaves any previous registration intact.
func (s *Service) Register(descriptor ServerDescriptor, handler Handler) error {
	if descriptor.Name == "" {
		return &ValidationError{Message: "descriptor name cannot be empty"}
	}
	if handler == nil {
		return &ValidationError{Server: descriptor.Name, Message: "handler cannot be nil"}
	}

	if descriptor.Timeout <= 0 {
		descriptor.Timeout = DefaultTimeout
	}
	if descriptor.DegradedThreshold <= 0 {
		descriptor.DegradedThreshold = DefaultDegradedThreshold
	}
	if descriptor.DownThreshold <= 0 {
		descriptor.DownThreshold = DefaultDownThreshold
	}

	schemas, err := compileCapabilities(descriptor)
	if err != nil {
		return err
	}

	entry := &serverEntry{
		descriptor:    descriptor,
		handler:       handler,
		schemas:       schemas,
		health:        HealthUp,
		lastHeartbeat: time.Now(),
	}

	s.servers.Replace(descriptor.Name, entry)
	slog.Info("Registered tool server",
		"server", descriptor.Name,
		"capabilities", len(descriptor.Capabilities),
		"timeout", descriptor.Timeout)
	return nil
}

// Deregister removes a tool server from the registry.
func (s *Service) Deregister(name string) error {
	if err := s.servers.Remove(name); err != nil {
		return fmt.Errorf("failed to deregister %q: %w", name, err)
	}
	slog.Info("Deregistered tool server", "server", name)
	return nil
}

// Describe returns the current descriptor (including health) for a server.
func (s *Service) Describe(name string) (ServerDescriptor, bool) {
	entry, exists := s.servers.Get(name)
	if !exists {
		return ServerDescriptor{}, false
	}
	return entry.snapshot(), true
}

// ListServers returns descriptors for all registered servers.
func (s *Service) ListServers() []ServerDescriptor {
	entries := s.servers.List()
	descriptors := make([]ServerDescriptor, 0, len(entries))
	for _, entry := range entries {
		descriptors = append(descriptors, entry.snapshot())
	}
	return descriptors
}

// ServerNames returns registered server names in sorted order.
func (s *Service) ServerNames() []string {
	return s.servers.Names()
}

// Invoke validates the request against the target server's capability schema
// and executes it with the per-server deadline. Failures are scoped to the
// named server; one server's DOWN status never affects dispatch to others.
func (s *Service) Invoke(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	tracer := observability.GetTracer("salesagent.mcp")
	ctx, span := tracer.Start(ctx, observability.SpanToolInvoke,
		trace.WithAttributes(
			attribute.String(observability.AttrServerName, req.Server),
			attribute.String(observability.AttrOperation, req.Operation),
		),
	)
	defer span.End()

	entry, exists := s.servers.Get(req.Server)
	if !exists {
		err := &ErrorDescriptor{
			Code:    CodeUnknownServer,
			Message: fmt.Sprintf("tool server %q is not registered", req.Server),
			Server:  req.Server,
		}
		return s.fail(span, req, start, err)
	}

	if entry.healthStatus() == HealthDown {
		return s.fail(span, req, start, &ServerUnavailableError{Server: req.Server})
	}

	schema, ok := entry.schemas[req.Operation]
	if !ok {
		err := &ErrorDescriptor{
			Code:    CodeUnknownOperation,
			Message: fmt.Sprintf("server %q has no operation %q", req.Server, req.Operation),
			Server:  req.Server,
		}
		return s.fail(span, req, start, err)
	}

	if err := validatePayload(req.Server, req.Operation, schema, req.Payload); err != nil {
		return s.fail(span, req, start, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, entry.descriptor.Timeout)
	defer cancel()

	payload, err := entry.handler.Serve(callCtx, req.Operation, req.Payload)
	latency := time.Since(start)

	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded {
			err = &TimeoutError{
				Server:    req.Server,
				Operation: req.Operation,
				Deadline:  entry.descriptor.Timeout.String(),
			}
		}

		health := entry.recordFailure()
		if health != HealthUp {
			slog.Warn("Tool server health degraded",
				"server", req.Server,
				"health", health,
				"error", err)
		}
		return s.fail(span, req, start, err)
	}

	entry.recordSuccess()
	s.metrics.RecordToolInvocation(req.Server, req.Operation, latency, nil)

	span.SetStatus(codes.Ok, "success")
	span.SetAttributes(attribute.Int64("mcp.latency_ms", latency.Milliseconds()))

	return &Response{
		Status:    StatusOK,
		Payload:   payload,
		LatencyMs: latency.Milliseconds(),
	}, nil
}

func (s *Service) fail(span trace.Span, req Request, start time.Time, err error) (*Response, error) {
	latency := time.Since(start)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	s.metrics.RecordToolInvocation(req.Server, req.Operation, latency, err)

	return &Response{
		Status:    StatusError,
		Error:     Descriptor(req.Server, err),
		LatencyMs: latency.Milliseconds(),
	}, err
}

// StartHealthChecks launches the background heartbeat loop. Each server is
// probed concurrently with a short timeout so a hung server cannot stall the
// sweep, and invoke callers are never blocked by the checker.
func (s *Service) StartHealthChecks(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultHealthInterval
	}

	ctx, cancel := context.WithCancel(ctx)
	s.healthCancel = cancel
	s.healthDone = make(chan struct{})

	go func() {
		defer close(s.healthDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweepHealth(ctx, interval/2)
			}
		}
	}()
}

func (s *Service) sweepHealth(ctx context.Context, probeTimeout time.Duration) {
	var wg sync.WaitGroup
	for _, entry := range s.servers.List() {
		wg.Add(1)
		go func(entry *serverEntry) {
			defer wg.Done()

			probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
			defer cancel()

			err := entry.handler.Ping(probeCtx)
			health := entry.recordHeartbeat(err == nil)
			if err != nil {
				slog.Warn("Heartbeat failed",
					"server", entry.descriptor.Name,
					"health", health,
					"error", err)
			}
		}(entry)
	}
	wg.Wait()
}

// Close stops health checking and deregisters all servers.
func (s *Service) Close() {
	s.healthOnce.Do(func() {
		if s.healthCancel != nil {
			s.healthCancel()
			<-s.healthDone
		}
	})
	s.servers.Clear()
}
