package billing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockGateway is a test gateway that records captures without calling Stripe.
// By default every capture succeeds.
type MockGateway struct {
	// CaptureFunc allows customizing capture behavior
	CaptureFunc func(ctx context.Context, params CaptureParams) (*CaptureResult, error)

	// Captures stores the params of every Capture call
	Captures []CaptureParams

	// CallLog tracks method calls for test assertions
	CallLog []string

	mu sync.Mutex
}

var _ Gateway = (*MockGateway)(nil)

// NewMockGateway creates a new mock gateway.
func NewMockGateway() *MockGateway {
	return &MockGateway{CallLog: []string{}}
}

func (m *MockGateway) ID() string { return "mock" }

// Capture records the call and delegates to CaptureFunc when set.
func (m *MockGateway) Capture(ctx context.Context, params CaptureParams) (*CaptureResult, error) {
	m.mu.Lock()
	m.CallLog = append(m.CallLog, fmt.Sprintf("Capture(%s, %s)", params.OrderID, params.Amount))
	m.Captures = append(m.Captures, params)
	fn := m.CaptureFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, params)
	}

	return &CaptureResult{
		RemoteID:    "pi_" + uuid.New().String(),
		Status:      "succeeded",
		AmountMinor: params.Amount.MinorUnits(),
		Currency:    params.Amount.Currency,
		CapturedAt:  time.Now().UTC(),
	}, nil
}

// Calls returns the number of Capture calls so far.
func (m *MockGateway) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Captures)
}

// Reset clears recorded calls.
func (m *MockGateway) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Captures = nil
	m.CallLog = []string{}
}
