package feed

import (
	"context"
	"errors"
	"sort"
	"sync"

	"market-gateway/src/interfaces"
	"market-gateway/src/models"
)

// -----------------------------------------------------------------------------

type call struct {
	subscribe bool
	symbols   []string
}

type fakeConn struct {
	mu     sync.Mutex
	calls  []call
	frames chan []byte
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{frames: make(chan []byte, 16), closed: make(chan struct{})}
}

func (f *fakeConn) Subscribe(symbols []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{subscribe: true, symbols: append([]string{}, symbols...)})
	return nil
}

func (f *fakeConn) Unsubscribe(symbols []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{subscribe: false, symbols: append([]string{}, symbols...)})
	return nil
}

func (f *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case data := <-f.frames:
		return data, nil
	case <-f.closed:
		return nil, errors.New("connection closed")
	}
}

func (f *fakeConn) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) Calls() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call{}, f.calls...)
}

// -----------------------------------------------------------------------------

// fakeDialer returns queued results in order; when the queue is empty it
// blocks until ctx ends.
type fakeDialer struct {
	mu      sync.Mutex
	results []dialResult
	ready   chan struct{}
	dials   int
}

type dialResult struct {
	conn *fakeConn
	err  error
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{ready: make(chan struct{}, 16)}
}

func (d *fakeDialer) push(r dialResult) {
	d.mu.Lock()
	d.results = append(d.results, r)
	d.mu.Unlock()
	d.ready <- struct{}{}
}

func (d *fakeDialer) Dial(ctx context.Context, cred models.MCredential) (interfaces.IConn, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-d.ready:
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	r := d.results[0]
	d.results = d.results[1:]
	d.dials++
	if r.err != nil {
		return nil, r.err
	}
	return r.conn, nil
}

func (d *fakeDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// -----------------------------------------------------------------------------

type fakeActive struct {
	mu   sync.Mutex
	keys map[string]models.MSymbol
}

func newFakeActive(codes ...string) *fakeActive {
	a := &fakeActive{keys: make(map[string]models.MSymbol)}
	for _, c := range codes {
		a.add(c)
	}
	return a
}

func (a *fakeActive) add(code string) models.MSymbol {
	s := models.MSymbol{Exchange: "NSE", Code: code, Marker: "EQ"}
	a.mu.Lock()
	a.keys[s.Key()] = s
	a.mu.Unlock()
	return s
}

func (a *fakeActive) remove(code string) models.MSymbol {
	s := models.MSymbol{Exchange: "NSE", Code: code, Marker: "EQ"}
	a.mu.Lock()
	delete(a.keys, s.Key())
	a.mu.Unlock()
	return s
}

func (a *fakeActive) ActiveSymbols() []models.MSymbol {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]models.MSymbol, 0, len(a.keys))
	for _, s := range a.keys {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

func (a *fakeActive) IsActive(key string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.keys[key]
	return ok
}

// -----------------------------------------------------------------------------

type tickSink struct {
	mu    sync.Mutex
	ticks []models.MTick
}

func (t *tickSink) HandleTick(tick models.MTick) {
	t.mu.Lock()
	t.ticks = append(t.ticks, tick)
	t.mu.Unlock()
}

func (t *tickSink) Ticks() []models.MTick {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]models.MTick{}, t.ticks...)
}

type statusRecorder struct {
	mu       sync.Mutex
	statuses []string
}

func (s *statusRecorder) OnFeedStatus(status, detail string) {
	s.mu.Lock()
	s.statuses = append(s.statuses, status)
	s.mu.Unlock()
}

func (s *statusRecorder) Has(status string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.statuses {
		if st == status {
			return true
		}
	}
	return false
}

type fakeVerifier struct {
	err   error
	calls int
	mu    sync.Mutex
}

func (v *fakeVerifier) VerifyProfile(ctx context.Context, cred models.MCredential) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls++
	return v.err
}
