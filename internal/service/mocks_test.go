package service

import (
	"context"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"wadispatch/internal/database"
	"wadispatch/internal/events"
	"wadispatch/pkg/whatsapp/types"
)

var baseTime = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) Send(ctx context.Context, msg types.OutboundMessage) (*types.SendResult, error) {
	args := m.Called(ctx, msg)
	var result *types.SendResult
	if v := args.Get(0); v != nil {
		result = v.(*types.SendResult)
	}
	return result, args.Error(1)
}

// sentContents returns the Content of every Send call, in call order.
func (m *mockGateway) sentContents() []string {
	var out []string
	for _, c := range m.Calls {
		if c.Method == "Send" {
			out = append(out, c.Arguments.Get(1).(types.OutboundMessage).Content)
		}
	}
	return out
}

type mockProber struct {
	mock.Mock
}

func (m *mockProber) CheckCredentials(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockProber) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockProber) SenderProfile(ctx context.Context) (*types.PhoneNumberProfile, error) {
	args := m.Called(ctx)
	var profile *types.PhoneNumberProfile
	if v := args.Get(0); v != nil {
		profile = v.(*types.PhoneNumberProfile)
	}
	return profile, args.Error(1)
}

type mockQuota struct {
	mock.Mock
}

func (m *mockQuota) Used(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

type countingWaker struct {
	mu    sync.Mutex
	count int
}

func (w *countingWaker) Trigger() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.count++
}

func (w *countingWaker) triggers() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.StatusEvent
}

func (r *recordingPublisher) Publish(ev events.StatusEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingPublisher) statuses() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Status
	}
	return out
}

// testClock is a settable clock shared by the components under test.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: baseTime}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestStore(t *testing.T) *database.Database {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "queue.db"), "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func sendOK(id string) *types.SendResult {
	return &types.SendResult{ProviderMessageID: id}
}
