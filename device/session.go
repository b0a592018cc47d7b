package device

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/vitalvas/thingshadow"
)

// Session defaults.
const (
	DefaultInterval     = time.Second
	DefaultYieldTimeout = 200 * time.Millisecond
	DefaultInitialState = StateActive
)

// Shadow is the part of *thingshadow.Client a Session drives.
type Shadow interface {
	ThingName() string
	RegisterDelta(ctx context.Context, field *thingshadow.Field) error
	Update(ctx context.Context, req *thingshadow.UpdateRequest) error
	Get(ctx context.Context, req *thingshadow.GetRequest) error
	Yield(ctx context.Context, timeout time.Duration) error
	Disconnect() error
}

type sessionOptions struct {
	logger           thingshadow.Logger
	metrics          thingshadow.Metrics
	interval         time.Duration
	yieldTimeout     time.Duration
	ackTimeout       time.Duration
	initialState     State
	startTemperature float64
	maxDocumentSize  int
	syncOnStart      bool
}

// SessionOption configures a Session.
type SessionOption func(*sessionOptions)

// WithLogger sets the session logger. A nil logger is ignored.
func WithLogger(logger thingshadow.Logger) SessionOption {
	return func(o *sessionOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics records device state and temperature gauges in m.
func WithMetrics(m thingshadow.Metrics) SessionOption {
	return func(o *sessionOptions) {
		o.metrics = m
	}
}

// WithInterval sets the pause between loop iterations.
func WithInterval(d time.Duration) SessionOption {
	return func(o *sessionOptions) {
		o.interval = d
	}
}

// WithYieldTimeout sets how long each iteration services the shadow client.
func WithYieldTimeout(d time.Duration) SessionOption {
	return func(o *sessionOptions) {
		o.yieldTimeout = d
	}
}

// WithAckTimeout sets the per-update acknowledgement timeout.
func WithAckTimeout(d time.Duration) SessionOption {
	return func(o *sessionOptions) {
		o.ackTimeout = d
	}
}

// WithInitialState sets the state reported before any delta arrives.
func WithInitialState(s State) SessionOption {
	return func(o *sessionOptions) {
		o.initialState = s
	}
}

// WithStartTemperature sets the reading considered already reported.
func WithStartTemperature(t float64) SessionOption {
	return func(o *sessionOptions) {
		o.startTemperature = t
	}
}

// WithMaxDocumentSize caps the serialized update document in bytes.
func WithMaxDocumentSize(n int) SessionOption {
	return func(o *sessionOptions) {
		o.maxDocumentSize = n
	}
}

// WithSyncOnStart requests the shadow before the loop starts and applies
// state.desired.state from the response.
func WithSyncOnStart(enabled bool) SessionOption {
	return func(o *sessionOptions) {
		o.syncOnStart = enabled
	}
}

// Session is the shadow demo device: it reports "state" and "temperature"
// and follows desired-state changes pushed as deltas.
//
// All callbacks run inside Shadow.Yield on the goroutine calling Run, so the
// session state is not locked.
type Session struct {
	shadow  Shadow
	thermo  Thermometer
	logger  thingshadow.Logger
	metrics *thingshadow.ShadowMetrics
	opts    *sessionOptions
	sleep   func(ctx context.Context, d time.Duration) error

	current      State
	previous     State
	temperature  float64
	lastReported float64

	// resync asks the loop to fetch the shadow before the next step.
	resync bool

	stateField       *thingshadow.Field
	temperatureField *thingshadow.Field
}

// NewSession binds a device to shadow. Readings come from thermo.
func NewSession(shadow Shadow, thermo Thermometer, opts ...SessionOption) *Session {
	o := &sessionOptions{
		logger:           thingshadow.NewNoOpLogger(),
		interval:         DefaultInterval,
		yieldTimeout:     DefaultYieldTimeout,
		ackTimeout:       thingshadow.DefaultAckTimeout,
		initialState:     DefaultInitialState,
		startTemperature: DefaultLowerLimit,
		maxDocumentSize:  thingshadow.DefaultMaxDocumentSize,
	}
	for _, opt := range opts {
		opt(o)
	}

	s := &Session{
		shadow:       shadow,
		thermo:       thermo,
		logger:       o.logger.WithFields(thingshadow.LogFields{thingshadow.LogFieldThingName: shadow.ThingName()}),
		metrics:      thingshadow.NewShadowMetrics(o.metrics),
		opts:         o,
		sleep:        sleepContext,
		current:      o.initialState,
		previous:     StateReady,
		temperature:  o.startTemperature,
		lastReported: o.startTemperature,
	}

	s.stateField = &thingshadow.Field{
		Key:     "state",
		Type:    thingshadow.FieldInt,
		Value:   func() any { return int(s.current) },
		OnDelta: s.HandleStateDelta,
	}
	s.temperatureField = &thingshadow.Field{
		Key:   "temperature",
		Type:  thingshadow.FieldFloat,
		Value: func() any { return s.temperature },
	}

	return s
}

// State returns the current device state.
func (s *Session) State() State {
	return s.current
}

// Temperature returns the last reading.
func (s *Session) Temperature() float64 {
	return s.temperature
}

// HandleStateDelta applies a desired "state" value. Codes outside 0..3 and
// non-integer values are logged and ignored.
func (s *Session) HandleStateDelta(_ *thingshadow.Field, value json.RawMessage) {
	var code int64
	if err := json.Unmarshal(value, &code); err != nil {
		s.logger.Warn("delta: ignore invalid state", thingshadow.LogFields{
			thingshadow.LogFieldDocument: string(value),
		})
		return
	}

	state, ok := ParseState(code)
	if !ok {
		s.logger.Warn("delta: ignore invalid state", thingshadow.LogFields{
			thingshadow.LogFieldState: code,
		})
		return
	}

	s.logger.Info("delta: state changed", thingshadow.LogFields{
		"from":                    s.current.String(),
		thingshadow.LogFieldState: state.String(),
	})
	s.current = state
	s.metrics.DeviceState(int(state))
}

// HandleAck logs the outcome of an update. A rejected update other than 404
// (no shadow yet) usually means a version conflict, so the next iteration
// fetches the shadow again.
func (s *Session) HandleAck(thingName string, action thingshadow.Action, status thingshadow.AckStatus, document []byte, _ any) {
	fields := thingshadow.LogFields{
		thingshadow.LogFieldThingName: thingName,
		thingshadow.LogFieldAction:    action.String(),
		thingshadow.LogFieldAckStatus: status.String(),
	}

	switch status {
	case thingshadow.AckAccepted:
		s.logger.Info("shadow ack", fields)
	case thingshadow.AckRejected:
		re, err := thingshadow.ParseRejected(thingName, action, document)
		if err == nil {
			fields["code"] = re.Code
			fields["message"] = re.Message
		}
		s.logger.Warn("shadow ack", fields)

		if action == thingshadow.ActionUpdate && (err != nil || re.Code != http.StatusNotFound) {
			s.resync = true
		}
	default:
		s.logger.Warn("shadow ack", fields)
	}
}

// Run registers the state delta and drives the control loop until the device
// is stopped, the connection is unrecoverable or ctx is done. It then reports
// READY and disconnects. A STOP returns nil.
func (s *Session) Run(ctx context.Context) error {
	if err := s.shadow.RegisterDelta(ctx, s.stateField); err != nil {
		return fmt.Errorf("register delta: %w", err)
	}

	s.logger.Info("starting", thingshadow.LogFields{
		thingshadow.LogFieldState:       s.current.String(),
		thingshadow.LogFieldTemperature: s.temperature,
	})
	s.metrics.DeviceState(int(s.current))

	if s.opts.syncOnStart {
		s.syncDesired(ctx)
	}

	err := s.loop(ctx)
	if err != nil {
		s.logger.Error("loop stopped", thingshadow.LogFields{thingshadow.LogFieldError: err})
	}

	s.shutdown()

	return err
}

func (s *Session) loop(ctx context.Context) error {
	for {
		status := s.shadow.Yield(ctx, s.opts.yieldTimeout)
		if !thingshadow.IsRecoverable(status) {
			return status
		}

		if s.current == StateStop {
			s.logger.Info("stop requested", nil)
			return nil
		}

		// deltas sent while offline are not replayed after a clean-session reconnect
		if errors.Is(status, thingshadow.ErrReconnected) || s.resync {
			s.resync = false
			s.logger.Info("re-sync with shadow", nil)
			s.syncDesired(ctx)
		}

		s.step(ctx, status)

		if err := s.sleep(ctx, s.opts.interval); err != nil {
			return err
		}
	}
}

// step runs one iteration after Yield.
func (s *Session) step(ctx context.Context, status error) {
	defer func() { s.previous = s.current }()

	if s.current != StateActive || errors.Is(status, thingshadow.ErrReconnecting) {
		if s.current != s.previous {
			s.publish(ctx, "transition")
		}
		return
	}

	reading, err := s.thermo.Read()
	if err != nil {
		s.logger.Warn("temperature read failed", thingshadow.LogFields{thingshadow.LogFieldError: err})
		return
	}

	s.temperature = reading
	if reading == s.lastReported {
		return
	}

	s.lastReported = reading
	s.metrics.Temperature(reading)
	s.publish(ctx, "reading")
}

func (s *Session) publish(ctx context.Context, reason string) {
	doc := thingshadow.NewDocument(s.opts.maxDocumentSize)
	if err := doc.AddReported(s.temperatureField, s.stateField); err != nil {
		s.logger.Error("build document", thingshadow.LogFields{thingshadow.LogFieldError: err})
		return
	}

	payload, err := doc.Finalize()
	if err != nil {
		s.logger.Error("finalize document", thingshadow.LogFields{thingshadow.LogFieldError: err})
		return
	}

	s.logger.Info("update shadow", thingshadow.LogFields{
		"reason":                     reason,
		thingshadow.LogFieldDocument: string(payload),
	})

	err = s.shadow.Update(ctx, &thingshadow.UpdateRequest{
		Document:   payload,
		Callback:   s.HandleAck,
		Timeout:    s.opts.ackTimeout,
		Persistent: true,
	})
	if err != nil {
		s.logger.Error("update failed", thingshadow.LogFields{thingshadow.LogFieldError: err})
	}
}

func (s *Session) syncDesired(ctx context.Context) {
	err := s.shadow.Get(ctx, &thingshadow.GetRequest{
		Callback: s.handleSync,
		Timeout:  s.opts.ackTimeout,
	})
	if err != nil {
		s.logger.Warn("shadow get failed", thingshadow.LogFields{thingshadow.LogFieldError: err})
	}
}

func (s *Session) handleSync(thingName string, action thingshadow.Action, status thingshadow.AckStatus, document []byte, userCtx any) {
	if status != thingshadow.AckAccepted {
		s.HandleAck(thingName, action, status, document, userCtx)
		return
	}

	doc, err := thingshadow.ParseStateDocument(document)
	if err != nil {
		s.logger.Warn("shadow get: bad document", thingshadow.LogFields{thingshadow.LogFieldError: err})
		return
	}

	raw, ok := doc.State.Desired[s.stateField.Key]
	if !ok {
		return
	}

	s.HandleStateDelta(s.stateField, raw)
}

// shutdown reports READY and disconnects. ctx may already be done, so the
// final update gets its own deadline.
func (s *Session) shutdown() {
	s.current = StateReady
	s.metrics.DeviceState(int(s.current))

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.ackTimeout)
	defer cancel()

	s.publish(ctx, "exit")

	s.logger.Info("disconnecting", nil)
	if err := s.shadow.Disconnect(); err != nil {
		s.logger.Error("disconnect failed", thingshadow.LogFields{thingshadow.LogFieldError: err})
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
