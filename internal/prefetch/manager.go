// Package prefetch implements the prefetch request queue.
//
// Requests are validated and queued from any goroutine. Nothing is fetched
// until a drain pass runs on the UI-affine looper; many enqueues made while
// the looper is busy collapse into a single posted drain. Every accepted
// request ends with exactly one Result delivered on the caller's Executor,
// unless it is cancelled first. TTL and capacity eviction only remove
// completed entries.
package prefetch

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/youtube/cobalt-sub008/internal/shared/utils"
	"github.com/youtube/cobalt-sub008/internal/uithread"
)

// Key identifies one prefetch request.
type Key int64

// InvalidKey is returned when a request is rejected by validation.
const InvalidKey Key = -1

// Callback receives the result of a prefetch.
type Callback func(Result)

// Executor runs callbacks. *uithread.Looper satisfies it.
type Executor interface {
	Execute(fn func())
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(fn func())

func (f ExecutorFunc) Execute(fn func()) { f(fn) }

// Inline runs callbacks on the calling goroutine.
var Inline Executor = ExecutorFunc(func(fn func()) { fn() })

// Params are the per-request options.
type Params struct {
	// Headers are sent with the prefetch request.
	Headers map[string]string
	// NoVarySearch controls deduplication. Nil means every query
	// parameter is significant.
	NoVarySearch *NoVarySearch
	// JavaScriptEnabled is forwarded to the fetcher.
	JavaScriptEnabled bool
}

// FetchRequest is handed to the Fetcher for every drained entry.
type FetchRequest struct {
	Key               Key
	URL               string
	Header            http.Header
	JavaScriptEnabled bool
}

// Response is a completed prefetch.
type Response struct {
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
	MIMEType   string
	FetchedAt  time.Time
}

// Fetcher performs the network request for a prefetch.
type Fetcher interface {
	Fetch(ctx context.Context, req FetchRequest) (*Response, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, req FetchRequest) (*Response, error)

func (f FetcherFunc) Fetch(ctx context.Context, req FetchRequest) (*Response, error) {
	return f(ctx, req)
}

// Recorder receives prefetch telemetry.
type Recorder interface {
	PrefetchEnqueued()
	PrefetchStatus(status StatusCode)
	PrefetchEvicted(reason string)
	DrainPass(batch int)
	QueueDepth(depth int)
}

type nopRecorder struct{}

func (nopRecorder) PrefetchEnqueued()         {}
func (nopRecorder) PrefetchStatus(StatusCode) {}
func (nopRecorder) PrefetchEvicted(string)    {}
func (nopRecorder) DrainPass(int)             {}
func (nopRecorder) QueueDepth(int)            {}

// Config holds the tunable limits.
type Config struct {
	Enabled       bool
	TTL           time.Duration
	MaxPrefetches int
}

// DefaultConfig returns the defaults used by new profiles.
func DefaultConfig() Config {
	return Config{
		Enabled:       true,
		TTL:           60 * time.Second,
		MaxPrefetches: 10,
	}
}

type entry struct {
	key        Key
	url        *url.URL
	normalized string
	nvs        *NoVarySearch
	header     http.Header
	js         bool
	state      State
	duplicate  bool
	createdAt  time.Time
	cb         Callback
	exec       Executor
	cancel     context.CancelFunc
	response   *Response
	once       sync.Once
}

// Manager owns the prefetch queue and cache of one profile.
type Manager struct {
	looper  *uithread.Looper
	fetcher Fetcher
	log     *zap.Logger
	rec     Recorder
	now     func() time.Time

	mu      sync.Mutex
	cfg     Config
	nextKey Key
	entries map[Key]*entry
	order   []*entry
	queue   []*entry
	closed  bool

	drainPosted atomic.Bool
	drains      atomic.Int64
	fetches     sync.WaitGroup

	subMu sync.Mutex
	subs  map[int]chan Event
	subID int
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(m *Manager) {
		if log != nil {
			m.log = log
		}
	}
}

// WithRecorder sets the telemetry sink.
func WithRecorder(r Recorder) Option {
	return func(m *Manager) {
		if r != nil {
			m.rec = r
		}
	}
}

// WithClock overrides time.Now, for TTL tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithConfig sets the initial configuration. Non-positive limits fall back
// to the defaults.
func WithConfig(cfg Config) Option {
	return func(m *Manager) {
		def := DefaultConfig()
		if cfg.TTL <= 0 {
			cfg.TTL = def.TTL
		}
		if cfg.MaxPrefetches <= 0 {
			cfg.MaxPrefetches = def.MaxPrefetches
		}
		m.cfg = cfg
	}
}

// NewManager creates a manager whose drains run on looper.
func NewManager(looper *uithread.Looper, fetcher Fetcher, opts ...Option) *Manager {
	m := &Manager{
		looper:  looper,
		fetcher: fetcher,
		log:     zap.NewNop(),
		rec:     nopRecorder{},
		now:     time.Now,
		cfg:     DefaultConfig(),
		nextKey: 1,
		entries: make(map[Key]*entry),
		subs:    make(map[int]chan Event),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ============================================================================
// Enqueue
// ============================================================================

// StartPrefetchRequest validates and queues a prefetch, then schedules a
// drain. Validation failures are delivered to cb as an error Result and
// InvalidKey is returned.
func (m *Manager) StartPrefetchRequest(rawURL string, params Params, cb Callback, exec Executor) Key {
	return m.start(m.now(), rawURL, params, cb, exec)
}

// StartPrefetchRequestAsync is StartPrefetchRequest for callers off the
// looper. The key is handed to keyConsumer on exec. A zero ts means now.
func (m *Manager) StartPrefetchRequestAsync(ts time.Time, rawURL string, params Params, cb Callback, exec Executor, keyConsumer func(Key)) {
	if ts.IsZero() {
		ts = m.now()
	}
	key := m.start(ts, rawURL, params, cb, exec)
	if keyConsumer != nil {
		executorOrInline(exec).Execute(func() { keyConsumer(key) })
	}
}

func (m *Manager) start(ts time.Time, rawURL string, params Params, cb Callback, exec Executor) Key {
	exec = executorOrInline(exec)

	u, header, err := m.validate(rawURL, params)
	if err != nil {
		m.log.Debug("Rejected prefetch", zap.String("url", rawURL), zap.Error(err))
		if cb != nil {
			exec.Execute(func() { cb(Result{Err: err}) })
		}
		return InvalidKey
	}

	e := &entry{
		url:        u,
		normalized: normalize(u, params.NoVarySearch),
		nvs:        params.NoVarySearch,
		header:     header,
		js:         params.JavaScriptEnabled,
		state:      StateQueued,
		createdAt:  ts,
		cb:         cb,
		exec:       exec,
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		if cb != nil {
			exec.Execute(func() { cb(Result{Err: ErrManagerClosed}) })
		}
		return InvalidKey
	}
	m.evictLocked()
	e.key = m.nextKey
	m.nextKey++
	e.duplicate = m.findLiveLocked(e) != nil
	if !e.duplicate {
		m.trimLocked(1)
		m.order = append(m.order, e)
	}
	m.entries[e.key] = e
	m.queue = append(m.queue, e)
	depth := len(m.queue)
	m.mu.Unlock()

	m.rec.PrefetchEnqueued()
	m.rec.QueueDepth(depth)
	m.publish(e, StateQueued, nil)
	m.log.Debug("Queued prefetch",
		zap.Int64("key", int64(e.key)),
		zap.String("url", e.normalized),
		zap.Bool("duplicate", e.duplicate))

	m.scheduleDrain()
	return e.key
}

func (m *Manager) validate(rawURL string, params Params) (*url.URL, http.Header, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme != "https" || u.Host == "" {
		return nil, nil, ErrHTTPSRequired
	}

	m.mu.Lock()
	enabled := m.cfg.Enabled
	m.mu.Unlock()
	if !enabled {
		return nil, nil, ErrFeatureDisabled
	}

	header := make(http.Header, len(params.Headers)+1)
	for name, value := range params.Headers {
		if err := utils.ValidateHeaderText(name, value); err != nil {
			return nil, nil, &InvalidHeaderError{Name: name, Err: err}
		}
		header.Set(name, value)
	}
	if header.Get(SecPurposeHeader) == "" {
		header.Set(SecPurposeHeader, SecPurposePrefetch)
	}
	return u, header, nil
}

// findLiveLocked returns a live entry that e duplicates. Either request's
// No-Vary-Search may establish equivalence.
func (m *Manager) findLiveLocked(e *entry) *entry {
	for _, other := range m.order {
		if other.state == StateCancelled || other.state == StateFailed {
			continue
		}
		if equivalent(other.url, e.url, other.nvs) || equivalent(other.url, e.url, e.nvs) {
			return other
		}
	}
	return nil
}

func (m *Manager) scheduleDrain() {
	if !m.drainPosted.CompareAndSwap(false, true) {
		return
	}
	if !m.looper.Post(m.postedDrain) {
		m.drainPosted.Store(false)
		m.log.Warn("Looper has quit; prefetch drain not scheduled")
	}
}

// ============================================================================
// Drain
// ============================================================================

// Drain processes the whole backlog. Called off the looper it posts itself
// and waits.
func (m *Manager) Drain(ctx context.Context) error {
	return m.looper.PostAndWait(ctx, m.drain)
}

// DrainCount returns the number of drain passes run so far.
func (m *Manager) DrainCount() int64 {
	return m.drains.Load()
}

// postedDrain is the task queued by scheduleDrain. Only it clears the
// posted flag, so an explicit Drain cannot cause a second post.
func (m *Manager) postedDrain(ctx context.Context) {
	m.drainPosted.Store(false)
	m.drain(ctx)
}

func (m *Manager) drain(ctx context.Context) {
	m.mu.Lock()
	batch := m.queue
	m.queue = nil
	type start struct {
		e   *entry
		ctx context.Context
	}
	var starts []start
	var dups []*entry
	for _, e := range batch {
		if e.state != StateQueued {
			continue
		}
		if e.duplicate {
			e.state = StateCancelled
			delete(m.entries, e.key)
			dups = append(dups, e)
			continue
		}
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		e.state = StateInFlight
		e.cancel = cancel
		m.fetches.Add(1)
		starts = append(starts, start{e: e, ctx: fctx})
	}
	m.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	m.drains.Add(1)
	m.rec.DrainPass(len(batch))
	m.rec.QueueDepth(0)

	for _, e := range dups {
		m.finish(e, Result{Status: StatusStartFailedDuplicate})
		m.publish(e, StateCancelled, &Result{Status: StatusStartFailedDuplicate})
	}
	for _, s := range starts {
		m.publish(s.e, StateInFlight, nil)
		go m.run(s.ctx, s.e)
	}

	m.log.Debug("Drained prefetch queue",
		zap.Int("batch", len(batch)),
		zap.Int("started", len(starts)),
		zap.Int("duplicates", len(dups)))
}

func (m *Manager) run(ctx context.Context, e *entry) {
	defer m.fetches.Done()

	resp, err := m.fetcher.Fetch(ctx, FetchRequest{
		Key:               e.key,
		URL:               e.url.String(),
		Header:            e.header.Clone(),
		JavaScriptEnabled: e.js,
	})

	var res Result
	state := StateCompleted
	switch {
	case errors.Is(err, ErrStartFailed):
		state = StateFailed
		res = Result{Status: StatusStartFailed, Extras: map[string]string{ExtraError: err.Error()}}
	case err != nil:
		state = StateFailed
		res = Result{Status: StatusResponseGenericError, Extras: map[string]string{ExtraError: err.Error()}}
	case resp == nil:
		state = StateFailed
		res = Result{Status: StatusResponseGenericError, Extras: map[string]string{ExtraError: errNoResponse.Error()}}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		state = StateFailed
		res = Result{Status: StatusResponseServerError, Extras: responseExtras(resp)}
	default:
		res = Result{Status: StatusResponseCompleted, Extras: responseExtras(resp)}
	}

	m.mu.Lock()
	if cur, ok := m.entries[e.key]; !ok || cur != e || e.state != StateInFlight {
		m.mu.Unlock()
		m.log.Debug("Discarded result of cancelled prefetch", zap.Int64("key", int64(e.key)))
		return
	}
	e.state = state
	e.cancel()
	if state == StateCompleted {
		e.response = resp
	} else {
		delete(m.entries, e.key)
		m.removeOrderLocked(e)
	}
	m.mu.Unlock()

	m.finish(e, res)
	m.publish(e, state, &res)
}

func responseExtras(resp *Response) map[string]string {
	return map[string]string{
		ExtraHTTPResponseCode: strconv.Itoa(resp.StatusCode),
		ExtraMIMEType:         resp.MIMEType,
	}
}

// finish delivers res at most once per entry.
func (m *Manager) finish(e *entry, res Result) {
	e.once.Do(func() {
		m.rec.PrefetchStatus(res.Status)
		if e.cb == nil {
			return
		}
		cb := e.cb
		e.exec.Execute(func() { cb(res) })
	})
}

// ============================================================================
// Cancellation and eviction
// ============================================================================

// CancelPrefetch removes the entry immediately. Unknown or finished keys are
// ignored. A fetch already running is aborted and its result discarded.
func (m *Manager) CancelPrefetch(key Key) {
	m.mu.Lock()
	e, ok := m.entries[key]
	if !ok {
		m.mu.Unlock()
		return
	}
	m.dropLocked(e)
	m.mu.Unlock()

	m.publish(e, StateCancelled, nil)
	m.log.Debug("Cancelled prefetch", zap.Int64("key", int64(key)))
}

func (m *Manager) dropLocked(e *entry) {
	e.state = StateCancelled
	if e.cancel != nil {
		e.cancel()
	}
	delete(m.entries, e.key)
	m.removeOrderLocked(e)
}

func (m *Manager) removeOrderLocked(e *entry) {
	for i, o := range m.order {
		if o == e {
			m.order = append(m.order[:i], m.order[i+1:]...)
			return
		}
	}
}

// evictLocked drops completed entries older than the TTL. Queued and
// in-flight entries still owe their caller a Result and are never evicted.
func (m *Manager) evictLocked() {
	now := m.now()
	for _, e := range append([]*entry(nil), m.order...) {
		if e.state == StateCompleted && now.Sub(e.createdAt) > m.cfg.TTL {
			m.dropLocked(e)
			m.rec.PrefetchEvicted("ttl")
			m.publish(e, StateCancelled, nil)
		}
	}
}

// trimLocked evicts the oldest completed entries until reserve more entries
// fit under MaxPrefetches. Queued and in-flight entries are never evicted,
// so a backlog may hold the cache over the limit until a later enqueue.
func (m *Manager) trimLocked(reserve int) {
	for len(m.order)+reserve > m.cfg.MaxPrefetches {
		var oldest *entry
		for _, e := range m.order {
			if e.state == StateCompleted {
				oldest = e
				break
			}
		}
		if oldest == nil {
			return
		}
		m.dropLocked(oldest)
		m.rec.PrefetchEvicted("capacity")
		m.publish(oldest, StateCancelled, nil)
	}
}

// ============================================================================
// Queries and configuration
// ============================================================================

// IsPrefetchInCache reports whether key refers to a live entry.
func (m *Manager) IsPrefetchInCache(key Key) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok || e.duplicate {
		return false
	}
	return e.state == StateQueued || e.state == StateInFlight || e.state == StateCompleted
}

// Status returns the state of key. Unknown keys report false.
func (m *Manager) Status(key Key) (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return StateCancelled, false
	}
	return e.state, true
}

// Lookup returns a completed, unexpired prefetch equivalent to rawURL.
func (m *Manager) Lookup(rawURL string) (*Response, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for i := len(m.order) - 1; i >= 0; i-- {
		e := m.order[i]
		if e.state != StateCompleted || now.Sub(e.createdAt) > m.cfg.TTL {
			continue
		}
		if equivalent(e.url, u, e.nvs) {
			return e.response, true
		}
	}
	return nil, false
}

// QueueLen returns the number of entries waiting for a drain.
func (m *Manager) QueueLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// UpdatePrefetchConfiguration replaces both limits. Non-positive values
// leave the configuration unchanged.
func (m *Manager) UpdatePrefetchConfiguration(ttlSeconds, maxPrefetches int) {
	if ttlSeconds <= 0 || maxPrefetches <= 0 {
		m.log.Debug("Ignored invalid prefetch configuration",
			zap.Int("ttl_seconds", ttlSeconds),
			zap.Int("max_prefetches", maxPrefetches))
		return
	}
	m.mu.Lock()
	m.cfg.TTL = time.Duration(ttlSeconds) * time.Second
	m.cfg.MaxPrefetches = maxPrefetches
	m.mu.Unlock()
}

// SetEnabled toggles the feature flag checked at enqueue.
func (m *Manager) SetEnabled(enabled bool) {
	m.mu.Lock()
	m.cfg.Enabled = enabled
	m.mu.Unlock()
}

// Config returns the current configuration.
func (m *Manager) Config() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

// Close cancels everything and waits for running fetches to return.
// Results of cancelled work are discarded.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	for _, e := range m.entries {
		m.dropLocked(e)
	}
	m.queue = nil
	m.mu.Unlock()

	m.fetches.Wait()

	m.subMu.Lock()
	for id, ch := range m.subs {
		close(ch)
		delete(m.subs, id)
	}
	m.subMu.Unlock()
}

func executorOrInline(exec Executor) Executor {
	if exec == nil {
		return Inline
	}
	return exec
}
