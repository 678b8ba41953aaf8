package ari

import (
	"context"
	"sync"
)

// Call records a single mock invocation.
type Call struct {
	Method string
	ID     string
	Args   []string
}

// MockClient records all ARI calls for test assertions. Results are
// scriptable per method; unscripted methods answer 200/success.
type MockClient struct {
	mu        sync.Mutex
	calls     []Call
	responses map[string]Response
	errs      map[string]error
}

func NewMockClient() *MockClient {
	return &MockClient{
		responses: make(map[string]Response),
		errs:      make(map[string]error),
	}
}

var _ Client = (*MockClient)(nil)

// SetResponse scripts the result for every subsequent call of method.
func (m *MockClient) SetResponse(method string, resp Response) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[method] = resp
}

// SetError causes every subsequent call of method to return err.
func (m *MockClient) SetError(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs[method] = err
}

// Calls returns a copy of all recorded calls.
func (m *MockClient) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallsTo returns the recorded calls for one method.
func (m *MockClient) CallsTo(method string) []Call {
	var out []Call
	for _, c := range m.Calls() {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// Reset clears all recorded calls.
func (m *MockClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

func (m *MockClient) record(method, id string, args ...string) (Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: method, ID: id, Args: args})
	if err, ok := m.errs[method]; ok && err != nil {
		return Response{Success: false, Message: err.Error()}, err
	}
	if resp, ok := m.responses[method]; ok {
		return resp, nil
	}
	return Response{HTTPCode: 200, Success: true}, nil
}

func (m *MockClient) CreateBridge(_ context.Context, bridgeID string) (Response, error) {
	return m.record("CreateBridge", bridgeID)
}

func (m *MockClient) DestroyBridge(_ context.Context, bridgeID string) (Response, error) {
	return m.record("DestroyBridge", bridgeID)
}

func (m *MockClient) GetBridge(_ context.Context, bridgeID string) (Response, error) {
	return m.record("GetBridge", bridgeID)
}

func (m *MockClient) CreateChannel(_ context.Context, chanID, endpoint, callerID string) (Response, error) {
	return m.record("CreateChannel", chanID, endpoint, callerID)
}

func (m *MockClient) CreateSnoopChannel(_ context.Context, targetChanID, snoopID string) (Response, error) {
	return m.record("CreateSnoopChannel", snoopID, targetChanID)
}

func (m *MockClient) CreateExternalMediaChannel(_ context.Context, chanID, externalHost string) (Response, error) {
	return m.record("CreateExternalMediaChannel", chanID, externalHost)
}

func (m *MockClient) AddChannelToBridge(_ context.Context, bridgeID, chanID string) (Response, error) {
	return m.record("AddChannelToBridge", bridgeID, chanID)
}

func (m *MockClient) DialChannel(_ context.Context, chanID string, timeoutSeconds int) (Response, error) {
	return m.record("DialChannel", chanID)
}

func (m *MockClient) DeleteChannel(_ context.Context, chanID string, reasonCode int) (Response, error) {
	return m.record("DeleteChannel", chanID)
}

func (m *MockClient) GetChannelVar(_ context.Context, chanID, name string) (Response, error) {
	return m.record("GetChannelVar", chanID, name)
}

func (m *MockClient) StartChannelPlayback(_ context.Context, chanID, playbackID, media string) (Response, error) {
	return m.record("StartChannelPlayback", playbackID, chanID, media)
}

func (m *MockClient) StartBridgePlayback(_ context.Context, bridgeID, playbackID, media string) (Response, error) {
	return m.record("StartBridgePlayback", playbackID, bridgeID, media)
}

func (m *MockClient) StopPlayback(_ context.Context, playbackID string) (Response, error) {
	return m.record("StopPlayback", playbackID)
}

func (m *MockClient) Subscribe(_ context.Context, eventSource string) (Response, error) {
	return m.record("Subscribe", eventSource)
}
