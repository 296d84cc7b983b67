// ABOUTME: Tests for the conversation orchestrator
// ABOUTME: Uses a fake provider to exercise session reuse, error classification, and reply assembly

package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kartbot/kartbot/internal/assistant"
	"github.com/kartbot/kartbot/internal/gate"
	"github.com/kartbot/kartbot/internal/session"
)

type recordedMessage struct {
	ThreadID string
	Role     string
	Content  string
}

// fakeProvider is an in-memory stand-in for the assistant API.
type fakeProvider struct {
	mu          sync.Mutex
	threadSeq   int
	createCalls int
	createErr   error
	addErrRole  string // fail AddMessage for this role
	addErr      error
	messages    []recordedMessage
	streamEvents []assistant.Event
	streamErr    error
	streamDelay  time.Duration
}

func (f *fakeProvider) CreateThread(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.createErr != nil {
		return "", f.createErr
	}
	f.threadSeq++
	return fmt.Sprintf("thread_%d", f.threadSeq), nil
}

func (f *fakeProvider) AddMessage(ctx context.Context, threadID, role, content string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addErr != nil && (f.addErrRole == "" || f.addErrRole == role) {
		return f.addErr
	}
	f.messages = append(f.messages, recordedMessage{ThreadID: threadID, Role: role, Content: content})
	return nil
}

func (f *fakeProvider) StreamRun(ctx context.Context, threadID string) (<-chan assistant.Event, error) {
	f.mu.Lock()
	streamErr := f.streamErr
	events := make([]assistant.Event, len(f.streamEvents))
	copy(events, f.streamEvents)
	delay := f.streamDelay
	f.mu.Unlock()

	if streamErr != nil {
		return nil, streamErr
	}

	ch := make(chan assistant.Event)
	go func() {
		defer close(ch)
		if delay > 0 {
			time.Sleep(delay)
		}
		for _, ev := range events {
			ch <- ev
		}
	}()
	return ch, nil
}

func (f *fakeProvider) recorded() []recordedMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]recordedMessage, len(f.messages))
	copy(out, f.messages)
	return out
}

func (f *fakeProvider) threadsCreated() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.createCalls
}

func textStream(parts ...string) []assistant.Event {
	var events []assistant.Event
	for _, p := range parts {
		events = append(events, assistant.Event{Type: assistant.EventTextDelta, Text: p})
	}
	return append(events, assistant.Event{Type: assistant.EventDone})
}

func newTestService(t *testing.T, provider *fakeProvider, maxSessions int) (*Service, *session.Store) {
	t.Helper()
	store := session.New(maxSessions, time.Hour, time.Hour, nil, nil)
	t.Cleanup(store.Close)
	g := gate.New(5, 0, nil)
	return New(provider, g, store, "Welcome to the chat!", nil), store
}

func TestProcessMessage_FreshSession(t *testing.T) {
	provider := &fakeProvider{streamEvents: textStream("Hi ", "there!")}
	svc, _ := newTestService(t, provider, 10)

	reply, err := svc.ProcessMessage(context.Background(), "s1", "hello")
	require.NoError(t, err)
	assert.Equal(t, "Hi there!", reply)

	msgs := provider.recorded()
	require.Len(t, msgs, 2)
	assert.Equal(t, assistant.RoleAssistant, msgs[0].Role, "welcome message is seeded first")
	assert.Equal(t, "Welcome to the chat!", msgs[0].Content)
	assert.Equal(t, assistant.RoleUser, msgs[1].Role)
	assert.Equal(t, "hello", msgs[1].Content)
	assert.Equal(t, msgs[0].ThreadID, msgs[1].ThreadID)
	assert.Equal(t, 1, provider.threadsCreated())
}

func TestProcessMessage_ReusesThread(t *testing.T) {
	provider := &fakeProvider{streamEvents: textStream("ok")}
	svc, store := newTestService(t, provider, 10)

	_, err := svc.ProcessMessage(context.Background(), "s1", "first")
	require.NoError(t, err)
	_, err = svc.ProcessMessage(context.Background(), "s1", "second")
	require.NoError(t, err)

	assert.Equal(t, 1, provider.threadsCreated(), "second message must reuse the thread")

	sess, ok := store.Get("s1")
	require.True(t, ok)
	msgs := provider.recorded()
	for _, m := range msgs {
		assert.Equal(t, sess.ThreadID, m.ThreadID)
	}
}

func TestProcessMessage_EmptyText(t *testing.T) {
	provider := &fakeProvider{streamEvents: textStream("ok")}
	svc, _ := newTestService(t, provider, 10)

	for _, text := range []string{"", "   ", "\n\t"} {
		_, err := svc.ProcessMessage(context.Background(), "s1", text)
		ce, ok := AsError(err)
		require.True(t, ok, "expected taxonomy error for %q", text)
		assert.Equal(t, CodeEmptyMessage, ce.Code)
		assert.Equal(t, 400, ce.HTTPStatus)
	}
	assert.Equal(t, 0, provider.threadsCreated(), "invalid input must not reach upstream")
}

func TestProcessMessage_WelcomeSeedingFailureIsNotFatal(t *testing.T) {
	provider := &fakeProvider{
		streamEvents: textStream("reply"),
		addErr:       errors.New("seed failed"),
		addErrRole:   assistant.RoleAssistant,
	}
	svc, _ := newTestService(t, provider, 10)

	reply, err := svc.ProcessMessage(context.Background(), "s1", "hello")
	require.NoError(t, err, "a missing welcome message must not fail the exchange")
	assert.Equal(t, "reply", reply)
}

func TestProcessMessage_ThreadInitFailed(t *testing.T) {
	provider := &fakeProvider{createErr: errors.New("upstream down")}
	svc, store := newTestService(t, provider, 10)

	_, err := svc.ProcessMessage(context.Background(), "s1", "hello")
	ce, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, CodeThreadInitFailed, ce.Code)
	assert.Equal(t, 500, ce.HTTPStatus)

	_, exists := store.Get("s1")
	assert.False(t, exists, "failed creation must not leave a session behind")
}

func TestProcessMessage_AppendFailed(t *testing.T) {
	provider := &fakeProvider{
		streamEvents: textStream("unused"),
		addErr:       errors.New("append rejected"),
		addErrRole:   assistant.RoleUser,
	}
	svc, _ := newTestService(t, provider, 10)

	_, err := svc.ProcessMessage(context.Background(), "s1", "hello")
	ce, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, CodeMessageAppendFailed, ce.Code)
	assert.Equal(t, 500, ce.HTTPStatus)
}

func TestProcessMessage_StreamError_NoPartialReply(t *testing.T) {
	provider := &fakeProvider{
		streamEvents: []assistant.Event{
			{Type: assistant.EventTextDelta, Text: "partial text"},
			{Type: assistant.EventError, Err: errors.New("stream cut")},
		},
	}
	svc, _ := newTestService(t, provider, 10)

	reply, err := svc.ProcessMessage(context.Background(), "s1", "hello")
	ce, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, CodeStreamFailed, ce.Code)
	assert.Empty(t, reply, "no partial reply on stream error")
}

func TestProcessMessage_AssemblesToolOutput(t *testing.T) {
	provider := &fakeProvider{
		streamEvents: []assistant.Event{
			{Type: assistant.EventTextDelta, Text: "Result: "},
			{Type: assistant.EventToolInput, Text: "print(2+2)"},
			{Type: assistant.EventToolOutput, Logs: []string{"4"}},
			{Type: assistant.EventDone},
		},
	}
	svc, _ := newTestService(t, provider, 10)

	reply, err := svc.ProcessMessage(context.Background(), "s1", "compute")
	require.NoError(t, err)
	assert.Equal(t, "Result: print(2+2)\noutput >\n\n4\n", reply)
}

func TestProcessMessage_ServerBusyWhenNothingEvictable(t *testing.T) {
	provider := &fakeProvider{streamEvents: textStream("ok")}
	store := session.New(0, time.Hour, time.Hour, nil, nil)
	t.Cleanup(store.Close)
	svc := New(provider, gate.New(5, 0, nil), store, "", nil)

	_, err := svc.ProcessMessage(context.Background(), "s1", "hello")
	ce, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, CodeServerBusy, ce.Code)
	assert.Equal(t, 503, ce.HTTPStatus)
}

func TestProcessMessage_SerializesSameSession(t *testing.T) {
	provider := &fakeProvider{
		streamEvents: textStream("ok"),
		streamDelay:  10 * time.Millisecond,
	}
	svc, _ := newTestService(t, provider, 10)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.ProcessMessage(context.Background(), "same", "hi")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, provider.threadsCreated(),
		"concurrent messages for one session must not double-create the thread")
}

func TestResetThread(t *testing.T) {
	provider := &fakeProvider{streamEvents: textStream("ok")}
	svc, store := newTestService(t, provider, 10)

	_, err := svc.ProcessMessage(context.Background(), "s1", "hello")
	require.NoError(t, err)

	require.NoError(t, svc.ResetThread("s1"))
	_, ok := store.Get("s1")
	assert.False(t, ok, "session must be gone after reset")

	err = svc.ResetThread("s1")
	ce, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, CodeSessionNotFound, ce.Code)
	assert.Equal(t, 404, ce.HTTPStatus)
}

func TestResetThread_NewThreadAfterReset(t *testing.T) {
	provider := &fakeProvider{streamEvents: textStream("ok")}
	svc, _ := newTestService(t, provider, 10)

	_, err := svc.ProcessMessage(context.Background(), "s1", "one")
	require.NoError(t, err)
	require.NoError(t, svc.ResetThread("s1"))
	_, err = svc.ProcessMessage(context.Background(), "s1", "two")
	require.NoError(t, err)

	assert.Equal(t, 2, provider.threadsCreated(), "a reset session gets a fresh thread")
}

func TestWelcomeMessage(t *testing.T) {
	provider := &fakeProvider{}
	svc, _ := newTestService(t, provider, 10)
	assert.Equal(t, "Welcome to the chat!", svc.WelcomeMessage())
}
