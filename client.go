package thingshadow

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const disconnectQuiesce = 250 * time.Millisecond

// AckCallback receives the outcome of an Update or Get. document is the
// accepted or rejected response payload and is nil on timeout.
// It is called from Yield.
type AckCallback func(thingName string, action Action, status AckStatus, document []byte, userCtx any)

// UpdateRequest publishes a finalized document to the update topic of ThingName.
type UpdateRequest struct {
	ThingName string
	Document  []byte
	Callback  AckCallback
	Context   any

	// Timeout overrides the client ack timeout when positive.
	Timeout time.Duration

	// Persistent keeps the response subscriptions of a foreign thing after
	// the ack. The client's own thing is always subscribed.
	Persistent bool
}

// GetRequest asks for the full shadow document of ThingName.
type GetRequest struct {
	ThingName  string
	Callback   AckCallback
	Context    any
	Timeout    time.Duration
	Persistent bool
}

// DeleteRequest removes the shadow document of ThingName. The thing's
// delete responses are subscribed only while the request is pending.
type DeleteRequest struct {
	ThingName string
	Callback  AckCallback
	Context   any
	Timeout   time.Duration
}

type pendingRequest struct {
	token     string
	thingName string
	action    Action
	callback  AckCallback
	userCtx   any
	sentAt    time.Time
	deadline  time.Time
}

type responseSub struct {
	refs       int
	persistent bool
}

type eventKind int

const (
	eventMessage eventKind = iota
	eventStatus
)

type event struct {
	kind    eventKind
	topic   string
	payload []byte
	status  ConnStatus
	err     error
}

// Client is a device shadow client bound to one thing.
//
// Transport goroutines only queue incoming messages and status changes.
// Callbacks run inside Yield on the caller's goroutine.
type Client struct {
	options   *clientOptions
	transport Transport
	logger    Logger
	metrics   *ShadowMetrics
	limiter   *rate.Limiter
	now       func() time.Time

	events chan event
	done   chan struct{}
	closed atomic.Bool

	mu          sync.Mutex
	pending     map[string]*pendingRequest
	fields      map[string]*Field
	deltaSub    bool
	subs        map[string]*responseSub // thing/action -> accepted+rejected subscription
	version     uint64
	versionSeen bool

	// version was taken from a dispatched delta rather than an accepted response
	deltaVersion bool

	// Connection state, owned by Yield.
	reconnecting bool
	reconnected  bool
	lostErr      error
}

// Dial connects to the broker and subscribes to the thing's own update and get
// responses.
func Dial(opts ...Option) (*Client, error) {
	return DialContext(context.Background(), opts...)
}

// DialContext is Dial with a context bounding the connection attempt.
func DialContext(ctx context.Context, opts ...Option) (*Client, error) {
	options := applyOptions(opts...)

	if options.server == "" {
		return nil, ErrNoServer
	}
	if err := ValidateThingName(options.thingName); err != nil {
		return nil, err
	}
	if options.clientID == "" {
		options.clientID = options.thingName
	}

	tlsConfig, err := options.loadTLS()
	if err != nil {
		return nil, err
	}

	c := &Client{
		options: options,
		logger: options.logger.WithFields(LogFields{
			LogFieldThingName: options.thingName,
			LogFieldClientID:  options.clientID,
		}),
		metrics: NewShadowMetrics(options.metrics),
		limiter: rate.NewLimiter(options.publishLimit, options.publishBurst),
		now:     time.Now,
		events:  make(chan event, options.eventBuffer),
		done:    make(chan struct{}),
		pending: make(map[string]*pendingRequest),
		fields:  make(map[string]*Field),
		subs:    make(map[string]*responseSub),
	}

	transport, err := options.transport(&TransportConfig{
		Server:         options.server,
		ClientID:       options.clientID,
		TLSConfig:      tlsConfig,
		KeepAlive:      options.keepAlive,
		ConnectTimeout: options.connectTimeout,
		WriteTimeout:   options.writeTimeout,
		AutoReconnect:  options.autoReconnect,
		MaxBackoff:     options.maxBackoff,
		Proxy:          options.proxy,
		QUIC:           options.quic,
		Handlers: TransportHandlers{
			OnMessage: c.queueMessage,
			OnStatus:  c.queueStatus,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create transport: %w", err)
	}
	c.transport = transport

	c.logger.Info("connecting", LogFields{"server": options.server})

	if err := transport.Connect(ctx); err != nil {
		return nil, err
	}

	for _, action := range []Action{ActionUpdate, ActionGet} {
		if err := c.subscribeResponses(ctx, options.thingName, action, true); err != nil {
			transport.Disconnect(0)
			return nil, err
		}
	}

	c.logger.Info("connected", nil)

	return c, nil
}

// ThingName returns the thing this client reports for.
func (c *Client) ThingName() string {
	return c.options.thingName
}

// ClientID returns the MQTT client identifier.
func (c *Client) ClientID() string {
	return c.options.clientID
}

// IsConnected reports whether the transport currently has a live session.
func (c *Client) IsConnected() bool {
	return !c.closed.Load() && c.transport.IsConnected()
}

// RegisterDelta subscribes to the thing's delta topic and routes the value of
// field.Key in every delta document to field.OnDelta.
func (c *Client) RegisterDelta(ctx context.Context, field *Field) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	if err := field.validate(); err != nil {
		return err
	}
	if field.OnDelta == nil {
		return fmt.Errorf("%w: %s", ErrNilCallback, field.Key)
	}

	c.mu.Lock()
	if _, ok := c.fields[field.Key]; ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrFieldRegistered, field.Key)
	}
	needSub := !c.deltaSub
	c.mu.Unlock()

	if needSub {
		topic := ResponseTopic(c.options.thingName, ActionUpdate, ResponseDelta)
		if err := c.transport.Subscribe(ctx, topic, 0); err != nil {
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
	}

	c.mu.Lock()
	c.deltaSub = true
	c.fields[field.Key] = field
	c.mu.Unlock()

	c.logger.Debug("delta registered", LogFields{LogFieldKey: field.Key})

	return nil
}

// Update publishes req.Document and tracks its clientToken until the request
// is accepted, rejected or times out.
func (c *Client) Update(ctx context.Context, req *UpdateRequest) error {
	if req == nil {
		return fmt.Errorf("%w: nil request", ErrInvalidDocument)
	}

	token, err := documentToken(req.Document)
	if err != nil {
		return err
	}

	return c.request(ctx, ActionUpdate, req.ThingName, token, req.Document,
		req.Callback, req.Context, req.Timeout, req.Persistent)
}

// Get requests the full shadow document. The accepted document is passed to
// the callback.
func (c *Client) Get(ctx context.Context, req *GetRequest) error {
	if req == nil {
		return fmt.Errorf("%w: nil request", ErrInvalidDocument)
	}

	token := uuid.NewString()
	payload, err := tokenDocument(token)
	if err != nil {
		return err
	}

	return c.request(ctx, ActionGet, req.ThingName, token, payload,
		req.Callback, req.Context, req.Timeout, req.Persistent)
}

// Delete removes the shadow document. The next update recreates it.
func (c *Client) Delete(ctx context.Context, req *DeleteRequest) error {
	if req == nil {
		return fmt.Errorf("%w: nil request", ErrInvalidDocument)
	}

	token := uuid.NewString()
	payload, err := tokenDocument(token)
	if err != nil {
		return err
	}

	return c.request(ctx, ActionDelete, req.ThingName, token, payload,
		req.Callback, req.Context, req.Timeout, false)
}

func (c *Client) request(ctx context.Context, action Action, thingName, token string, payload []byte,
	callback AckCallback, userCtx any, timeout time.Duration, persistent bool) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	if thingName == "" {
		thingName = c.options.thingName
	}
	if err := ValidateThingName(thingName); err != nil {
		return err
	}
	if timeout <= 0 {
		timeout = c.options.ackTimeout
	}

	c.mu.Lock()
	_, dup := c.pending[token]
	c.mu.Unlock()
	if dup {
		return fmt.Errorf("%w: %s", ErrDuplicateRequest, token)
	}

	perRequest := c.onDemand(thingName, action)
	if perRequest {
		if err := c.subscribeResponses(ctx, thingName, action, persistent); err != nil {
			return err
		}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		if perRequest {
			c.releaseResponses(ctx, thingName, action)
		}
		return err
	}

	now := c.now()
	req := &pendingRequest{
		token:     token,
		thingName: thingName,
		action:    action,
		callback:  callback,
		userCtx:   userCtx,
		sentAt:    now,
		deadline:  now.Add(timeout),
	}

	c.mu.Lock()
	c.pending[token] = req
	c.mu.Unlock()

	topic := RequestTopic(thingName, action)
	if err := c.transport.Publish(ctx, topic, 0, payload); err != nil {
		c.mu.Lock()
		delete(c.pending, token)
		c.mu.Unlock()
		if perRequest {
			c.releaseResponses(ctx, thingName, action)
		}
		return fmt.Errorf("publish %s: %w", topic, err)
	}

	c.metrics.RequestPublished(action)
	c.logger.Debug("request published", LogFields{
		LogFieldAction:      action.String(),
		LogFieldTopic:       topic,
		LogFieldClientToken: token,
	})

	return nil
}

// onDemand reports whether the responses of thingName and action are
// subscribed per request. Update and get of the client's own thing stay
// subscribed for its whole lifetime.
func (c *Client) onDemand(thingName string, action Action) bool {
	return thingName != c.options.thingName || action == ActionDelete
}

// subscribeResponses adds a reference to the accepted/rejected subscription
// of thingName and action, subscribing on first use.
func (c *Client) subscribeResponses(ctx context.Context, thingName string, action Action, persistent bool) error {
	key := thingName + "/" + action.String()

	c.mu.Lock()
	if sub, ok := c.subs[key]; ok {
		sub.refs++
		sub.persistent = sub.persistent || persistent
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	for _, kind := range []ResponseKind{ResponseAccepted, ResponseRejected} {
		topic := ResponseTopic(thingName, action, kind)
		if err := c.transport.Subscribe(ctx, topic, 0); err != nil {
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
	}

	c.mu.Lock()
	if sub, ok := c.subs[key]; ok {
		sub.refs++
		sub.persistent = sub.persistent || persistent
	} else {
		c.subs[key] = &responseSub{refs: 1, persistent: persistent}
	}
	c.mu.Unlock()

	return nil
}

// releaseResponses drops a reference and unsubscribes a non-persistent
// subscription that is no longer used.
func (c *Client) releaseResponses(ctx context.Context, thingName string, action Action) {
	key := thingName + "/" + action.String()

	c.mu.Lock()
	sub, ok := c.subs[key]
	if !ok {
		c.mu.Unlock()
		return
	}
	sub.refs--
	if sub.refs > 0 || sub.persistent {
		c.mu.Unlock()
		return
	}
	delete(c.subs, key)
	c.mu.Unlock()

	err := c.transport.Unsubscribe(ctx,
		ResponseTopic(thingName, action, ResponseAccepted),
		ResponseTopic(thingName, action, ResponseRejected))
	if err != nil {
		c.logger.Warn("unsubscribe failed", LogFields{
			LogFieldThingName: thingName,
			LogFieldAction:    action.String(),
			LogFieldError:     err,
		})
	}
}

func (c *Client) queueMessage(topic string, payload []byte) {
	select {
	case c.events <- event{kind: eventMessage, topic: topic, payload: payload}:
	case <-c.done:
	}
}

func (c *Client) queueStatus(status ConnStatus, err error) {
	select {
	case c.events <- event{kind: eventStatus, status: status, err: err}:
	case <-c.done:
	}
}

// Yield runs queued callbacks for up to timeout, expires requests whose ack
// timeout passed and reports the connection status.
//
// It returns nil while connected, ErrReconnecting or ErrReconnected while the
// transport recovers (see IsRecoverable), ErrConnectionLost when the session
// is gone, ErrClientClosed after Disconnect, or the context error.
func (c *Client) Yield(ctx context.Context, timeout time.Duration) error {
	if c.closed.Load() {
		return ErrClientClosed
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

loop:
	for c.lostErr == nil {
		select {
		case ev := <-c.events:
			c.handleEvent(ctx, ev)
		case <-timer.C:
			break loop
		case <-ctx.Done():
			c.expire(ctx)
			return ctx.Err()
		}
	}

	c.expire(ctx)

	switch {
	case c.closed.Load():
		return ErrClientClosed
	case c.lostErr != nil:
		return c.lostErr
	case c.reconnected:
		c.reconnected = false
		return ErrReconnected
	case c.reconnecting:
		return ErrReconnecting
	default:
		return nil
	}
}

func (c *Client) handleEvent(ctx context.Context, ev event) {
	if ev.kind == eventStatus {
		c.handleStatus(ev.status, ev.err)
		return
	}

	st, ok := parseShadowTopic(ev.topic)
	if !ok {
		c.logger.Debug("ignoring message", LogFields{LogFieldTopic: ev.topic})
		return
	}

	if st.kind == ResponseDelta {
		c.handleDelta(st, ev.payload)
		return
	}

	c.handleResponse(ctx, st, ev.payload)
}

func (c *Client) handleStatus(status ConnStatus, err error) {
	fields := LogFields{"status": status.String()}
	if err != nil {
		fields[LogFieldError] = err
	}

	switch status {
	case StatusConnected:
		c.logger.Debug("transport connected", nil)
		return
	case StatusReconnecting:
		if !c.reconnecting {
			c.logger.Warn("connection interrupted", fields)
		}
		c.reconnecting = true
	case StatusReconnected:
		c.reconnecting = false
		c.reconnected = true
		c.logger.Info("connection restored", nil)
	case StatusConnectionLost:
		if err == nil {
			c.lostErr = ErrConnectionLost
		} else {
			c.lostErr = fmt.Errorf("%w: %w", ErrConnectionLost, err)
		}
		c.logger.Error("connection lost", fields)
	}

	c.metrics.ConnectionEvent(status.String())
}

func (c *Client) handleDelta(st shadowTopic, payload []byte) {
	if st.thingName != c.options.thingName {
		return
	}

	var doc deltaDocument
	if err := json.Unmarshal(payload, &doc); err != nil {
		c.logger.Warn("malformed delta", LogFields{LogFieldError: err})
		return
	}

	c.mu.Lock()
	stale := c.options.discardOldDeltas && c.versionSeen &&
		(doc.Version < c.version || (doc.Version == c.version && c.deltaVersion))
	if !stale {
		c.version = doc.Version
		c.versionSeen = true
		c.deltaVersion = true
	}
	c.mu.Unlock()

	if stale {
		c.metrics.DeltaDiscarded()
		c.logger.Debug("discarding old delta", LogFields{LogFieldVersion: doc.Version})
		return
	}

	c.metrics.DeltaReceived()

	for key, raw := range doc.State {
		c.mu.Lock()
		field, ok := c.fields[key]
		c.mu.Unlock()
		if !ok {
			continue
		}

		if !field.Accepts(raw) {
			c.logger.Warn("delta value has wrong type", LogFields{
				LogFieldKey:      key,
				LogFieldDocument: string(raw),
			})
			continue
		}

		field.OnDelta(field, raw)
	}
}

func (c *Client) handleResponse(ctx context.Context, st shadowTopic, payload []byte) {
	var hdr responseHeader
	if err := json.Unmarshal(payload, &hdr); err != nil {
		c.logger.Warn("malformed response", LogFields{LogFieldTopic: st.String(), LogFieldError: err})
		return
	}

	c.mu.Lock()
	req, ok := c.pending[hdr.ClientToken]
	if ok && (req.thingName != st.thingName || req.action != st.action) {
		ok = false
	}
	if ok {
		delete(c.pending, hdr.ClientToken)
	}
	// AWS publishes update/accepted and update/delta with the same version for
	// one desired change, so an accepted version only makes older deltas stale.
	if st.kind == ResponseAccepted && st.thingName == c.options.thingName && hdr.Version > c.version {
		c.version = hdr.Version
		c.versionSeen = true
		c.deltaVersion = false
	}
	c.mu.Unlock()

	if !ok {
		// another client on the same thing, or a request that already timed out
		c.logger.Debug("response without pending request", LogFields{
			LogFieldTopic:       st.String(),
			LogFieldClientToken: hdr.ClientToken,
		})
		return
	}

	status := AckAccepted
	if st.kind == ResponseRejected {
		status = AckRejected
		rejected := hdr.rejected(req.thingName, req.action)
		c.logger.Warn("request rejected", LogFields{
			LogFieldClientToken: req.token,
			LogFieldError:       rejected,
		})
	}

	c.complete(ctx, req, status, payload)
}

// expire times out pending requests whose deadline passed.
func (c *Client) expire(ctx context.Context) {
	now := c.now()

	var expired []*pendingRequest
	c.mu.Lock()
	for token, req := range c.pending {
		if !now.Before(req.deadline) {
			expired = append(expired, req)
			delete(c.pending, token)
		}
	}
	c.mu.Unlock()

	for _, req := range expired {
		c.logger.Warn("request timed out", LogFields{
			LogFieldThingName:   req.thingName,
			LogFieldAction:      req.action.String(),
			LogFieldClientToken: req.token,
		})
		c.complete(ctx, req, AckTimeout, nil)
	}
}

func (c *Client) complete(ctx context.Context, req *pendingRequest, status AckStatus, document []byte) {
	elapsed := c.now().Sub(req.sentAt)
	c.metrics.AckReceived(req.action, status, elapsed)
	c.logger.Debug("request completed", LogFields{
		LogFieldAction:      req.action.String(),
		LogFieldAckStatus:   status.String(),
		LogFieldClientToken: req.token,
		LogFieldDuration:    elapsed,
	})

	if c.onDemand(req.thingName, req.action) {
		c.releaseResponses(ctx, req.thingName, req.action)
	}

	if req.callback != nil {
		req.callback(req.thingName, req.action, status, document, req.userCtx)
	}
}

// Disconnect closes the session. Pending requests are dropped without callbacks.
func (c *Client) Disconnect() error {
	if c.closed.Swap(true) {
		return ErrClientClosed
	}

	close(c.done)
	c.transport.Disconnect(disconnectQuiesce)

	c.mu.Lock()
	dropped := len(c.pending)
	c.pending = make(map[string]*pendingRequest)
	c.mu.Unlock()

	c.metrics.RequestsDropped(dropped)

	fields := LogFields{}
	if dropped > 0 {
		fields["dropped_requests"] = dropped
	}
	c.logger.Info("disconnected", fields)

	return nil
}
