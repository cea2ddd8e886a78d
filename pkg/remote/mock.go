package remote

import (
	"context"
	"fmt"
	"sync"
)

// MockCall records a method call for assertion
type MockCall struct {
	Method string
	Args   []interface{}
}

// MockClient is an in-memory implementation of Client and Subscriber for
// testing. It allows configuring responses per method, holding calls open
// to simulate slow responses, and driving subscriptions by hand.
type MockClient struct {
	mu sync.Mutex

	// Call tracking
	Calls []MockCall

	// Configurable function overrides - set these to customize behavior
	QueryFunc     func(ctx context.Context, q Query) (*Result, error)
	MutateFunc    func(ctx context.Context, m Mutation) (*Result, error)
	RPCFunc       func(ctx context.Context, fn string, args any) (*Result, error)
	SubscribeFunc func(ctx context.Context, topic Topic) error

	// Default responses for simple cases
	DefaultError error

	rows   map[string]any
	counts map[string]int
	rpc    map[string]any

	gate chan struct{}

	nextSubID int
	subs      map[int]*mockSubscription
}

var (
	_ Client     = (*MockClient)(nil)
	_ Subscriber = (*MockClient)(nil)
)

// NewMockClient creates a new mock client with sensible defaults
func NewMockClient() *MockClient {
	return &MockClient{
		Calls:  make([]MockCall, 0),
		rows:   make(map[string]any),
		counts: make(map[string]int),
		rpc:    make(map[string]any),
		subs:   make(map[int]*mockSubscription),
	}
}

// recordCall records a method call for later assertion
func (m *MockClient) recordCall(method string, args ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, MockCall{Method: method, Args: args})
}

// GetCalls returns all recorded calls (thread-safe)
func (m *MockClient) GetCalls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]MockCall, len(m.Calls))
	copy(result, m.Calls)
	return result
}

// GetCallsForMethod returns calls for a specific method
func (m *MockClient) GetCallsForMethod(method string) []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []MockCall
	for _, call := range m.Calls {
		if call.Method == method {
			result = append(result, call)
		}
	}
	return result
}

// Reset clears all recorded calls
func (m *MockClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = make([]MockCall, 0)
}

// AssertCalled checks if a method was called at least once
func (m *MockClient) AssertCalled(method string) bool {
	return len(m.GetCallsForMethod(method)) > 0
}

// AssertNotCalled checks if a method was never called
func (m *MockClient) AssertNotCalled(method string) bool {
	return len(m.GetCallsForMethod(method)) == 0
}

// AssertCallCount checks if a method was called exactly n times
func (m *MockClient) AssertCallCount(method string, count int) bool {
	return len(m.GetCallsForMethod(method)) == count
}

// SetRows sets the rows returned by default for queries on table
func (m *MockClient) SetRows(table string, rows any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[table] = rows
}

// SetCount sets the exact count returned for counted queries on table
func (m *MockClient) SetCount(table string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[table] = n
}

// SetRPCResult sets the default result of an RPC function
func (m *MockClient) SetRPCResult(fn string, v any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rpc[fn] = v
}

// Hold makes every following call block until the returned release func is
// called, or the call's context ends.
func (m *MockClient) Hold() (release func()) {
	gate := make(chan struct{})
	m.mu.Lock()
	m.gate = gate
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			if m.gate == gate {
				m.gate = nil
			}
			m.mu.Unlock()
			close(gate)
		})
	}
}

func (m *MockClient) wait(ctx context.Context) error {
	m.mu.Lock()
	gate := m.gate
	m.mu.Unlock()
	if gate == nil {
		return nil
	}
	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ============================================================================
// Client
// ============================================================================

func (m *MockClient) Query(ctx context.Context, q Query) (*Result, error) {
	m.recordCall("Query", q.Table, q)
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	if m.QueryFunc != nil {
		return m.QueryFunc(ctx, q)
	}
	if m.DefaultError != nil {
		return nil, m.DefaultError
	}

	m.mu.Lock()
	rows, hasRows := m.rows[q.Table]
	count := m.counts[q.Table]
	m.mu.Unlock()

	if q.Head {
		return &Result{Count: count}, nil
	}
	if !hasRows {
		if q.Single {
			return &Result{Body: []byte("null")}, nil
		}
		return &Result{Body: []byte("[]"), Count: count}, nil
	}
	res, err := NewResult(rows)
	if err != nil {
		return nil, fmt.Errorf("mock rows for %s: %w", q.Table, err)
	}
	res.Count = count
	return res, nil
}

func (m *MockClient) Mutate(ctx context.Context, mut Mutation) (*Result, error) {
	m.recordCall("Mutate", mut.Table, mut)
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	if m.MutateFunc != nil {
		return m.MutateFunc(ctx, mut)
	}
	if m.DefaultError != nil {
		return nil, m.DefaultError
	}
	if mut.Returning && mut.Payload != nil {
		return NewResult([]any{mut.Payload})
	}
	return &Result{Body: []byte("[]")}, nil
}

func (m *MockClient) RPC(ctx context.Context, fn string, args any) (*Result, error) {
	m.recordCall("RPC", fn, args)
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	if m.RPCFunc != nil {
		return m.RPCFunc(ctx, fn, args)
	}
	if m.DefaultError != nil {
		return nil, m.DefaultError
	}

	m.mu.Lock()
	v, ok := m.rpc[fn]
	m.mu.Unlock()
	if !ok {
		return &Result{Body: []byte("null")}, nil
	}
	return NewResult(v)
}

// ============================================================================
// Subscriber
// ============================================================================

type mockSubscription struct {
	m     *MockClient
	id    int
	topic Topic
	h     Handler
	once  sync.Once
}

func (s *mockSubscription) Topic() Topic { return s.topic }

func (s *mockSubscription) Unsubscribe() error {
	s.once.Do(func() {
		s.m.recordCall("Unsubscribe", s.topic.Name())
		s.m.mu.Lock()
		delete(s.m.subs, s.id)
		s.m.mu.Unlock()
	})
	return nil
}

func (m *MockClient) Subscribe(ctx context.Context, topic Topic, h Handler) (Subscription, error) {
	m.recordCall("Subscribe", topic.Name())
	if m.SubscribeFunc != nil {
		if err := m.SubscribeFunc(ctx, topic); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	m.nextSubID++
	sub := &mockSubscription{m: m, id: m.nextSubID, topic: topic, h: h}
	m.subs[sub.id] = sub
	m.mu.Unlock()

	h.Notify(StatusSubscribed, nil)
	return sub, nil
}

func (m *MockClient) matching(pred func(Topic) bool) []*mockSubscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*mockSubscription
	for _, s := range m.subs {
		if pred(s.topic) {
			out = append(out, s)
		}
	}
	return out
}

// Emit delivers ev to every open subscription whose topic matches it
func (m *MockClient) Emit(ev ChangeEvent) int {
	subs := m.matching(func(t Topic) bool { return t.Matches(ev) })
	for _, s := range subs {
		s.h.Deliver(ev)
	}
	return len(subs)
}

// EmitInsert delivers an INSERT of record on table
func (m *MockClient) EmitInsert(table string, record any) int {
	raw, _ := json.Marshal(record)
	return m.Emit(ChangeEvent{Type: EventInsert, Schema: "public", Table: table, Record: raw})
}

// Drop reports every subscription on table as dropped
func (m *MockClient) Drop(table string, err error) {
	for _, s := range m.matching(func(t Topic) bool { return t.Table == table }) {
		s.h.Notify(StatusDropped, err)
	}
}

// Rejoin reports every subscription on table as rejoined
func (m *MockClient) Rejoin(table string) {
	for _, s := range m.matching(func(t Topic) bool { return t.Table == table }) {
		s.h.Notify(StatusRejoined, nil)
	}
}

// ActiveSubscriptions counts open subscriptions on table ("" for all)
func (m *MockClient) ActiveSubscriptions(table string) int {
	return len(m.matching(func(t Topic) bool { return table == "" || t.Table == table }))
}
