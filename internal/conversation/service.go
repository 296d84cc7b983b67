// ABOUTME: Conversation orchestrator tying sessions, the call gate, and the assistant together
// ABOUTME: Resolves threads, appends messages, and assembles streamed replies per request

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kartbot/kartbot/internal/assistant"
	"github.com/kartbot/kartbot/internal/gate"
	"github.com/kartbot/kartbot/internal/session"
)

// Provider is the upstream assistant surface the service depends on.
type Provider interface {
	CreateThread(ctx context.Context) (string, error)
	AddMessage(ctx context.Context, threadID, role, content string) error
	StreamRun(ctx context.Context, threadID string) (<-chan assistant.Event, error)
}

// toolOutputMarker separates code-interpreter log output from reply text,
// matching what the chat client renders.
const toolOutputMarker = "\noutput >\n"

// Service coordinates one user message end to end: session resolution,
// thread creation, message append, and streamed reply assembly. Every
// upstream call is admitted through the gate. The service owns no
// persistent state of its own.
type Service struct {
	provider Provider
	gate     *gate.Gate
	sessions *session.Store
	welcome  string
	logger   *slog.Logger
	locks    *sessionLocks
}

// New creates a conversation service. welcome may be empty to skip
// welcome-message seeding on new threads.
func New(provider Provider, g *gate.Gate, sessions *session.Store, welcome string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		provider: provider,
		gate:     g,
		sessions: sessions,
		welcome:  welcome,
		logger:   logger.With("component", "conversation"),
		locks:    newSessionLocks(),
	}
}

// ProcessMessage handles one user message for a session and returns the
// assembled assistant reply. Concurrent messages for the same session id
// are serialized; different sessions proceed independently.
func (s *Service) ProcessMessage(ctx context.Context, sessionID, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", errEmptyMessage()
	}

	release := s.locks.acquire(sessionID)
	defer release()

	sess, ok := s.sessions.Get(sessionID)
	if !ok {
		var err error
		sess, err = s.createSession(ctx, sessionID)
		if err != nil {
			return "", err
		}
	}

	s.sessions.Touch(sessionID)

	err := s.gate.Do(ctx, func(ctx context.Context) error {
		return s.provider.AddMessage(ctx, sess.ThreadID, assistant.RoleUser, text)
	})
	if err != nil {
		if errors.Is(err, gate.ErrQueueFull) {
			return "", errServerBusy(err)
		}
		s.logger.Error("appending user message failed",
			"session_id", sessionID, "thread_id", sess.ThreadID, "error", err)
		return "", errMessageAppend(err)
	}

	var reply string
	err = s.gate.Do(ctx, func(ctx context.Context) error {
		events, err := s.provider.StreamRun(ctx, sess.ThreadID)
		if err != nil {
			return err
		}
		reply, err = assembleReply(events)
		return err
	})
	if err != nil {
		if errors.Is(err, gate.ErrQueueFull) {
			return "", errServerBusy(err)
		}
		s.logger.Error("streamed run failed",
			"session_id", sessionID, "thread_id", sess.ThreadID, "error", err)
		return "", errStreamFailed(err)
	}

	s.logger.Debug("reply completed", "session_id", sessionID, "thread_id", sess.ThreadID)
	return reply, nil
}

// ResetThread removes the session, abandoning its provider-side thread.
// No upstream call is made.
func (s *Service) ResetThread(sessionID string) error {
	if !s.sessions.Remove(sessionID) {
		return errSessionNotFound()
	}
	s.logger.Info("session reset", "session_id", sessionID)
	return nil
}

// WelcomeMessage returns the configured greeting shown on a fresh chat.
func (s *Service) WelcomeMessage() string {
	return s.welcome
}

// createSession makes room in the store, creates a provider thread through
// the gate, and seeds the welcome message. Seeding failure is logged and
// swallowed: a missing greeting is not fatal to the exchange.
func (s *Service) createSession(ctx context.Context, sessionID string) (session.Session, error) {
	if err := s.sessions.EnsureCapacity(); err != nil {
		return session.Session{}, errServerBusy(err)
	}

	var threadID string
	err := s.gate.Do(ctx, func(ctx context.Context) error {
		var err error
		threadID, err = s.provider.CreateThread(ctx)
		return err
	})
	if err != nil {
		if errors.Is(err, gate.ErrQueueFull) {
			return session.Session{}, errServerBusy(err)
		}
		s.logger.Error("creating thread failed", "session_id", sessionID, "error", err)
		return session.Session{}, errThreadInit(err)
	}

	sess := s.sessions.Put(sessionID, threadID)
	s.logger.Info("thread created", "session_id", sessionID, "thread_id", threadID)

	if s.welcome != "" {
		err := s.gate.Do(ctx, func(ctx context.Context) error {
			return s.provider.AddMessage(ctx, threadID, assistant.RoleAssistant, s.welcome)
		})
		if err != nil {
			s.logger.Warn("seeding welcome message failed",
				"session_id", sessionID, "thread_id", threadID, "error", err)
		}
	}

	return sess, nil
}

// assembleReply drains a run's event stream into one reply string. Text
// and code-interpreter input arrive verbatim; interpreter log output is
// set off by a marker line. A stream error discards any partial text.
func assembleReply(events <-chan assistant.Event) (string, error) {
	var b strings.Builder
	for ev := range events {
		switch ev.Type {
		case assistant.EventTextDelta, assistant.EventToolInput:
			b.WriteString(ev.Text)
		case assistant.EventToolOutput:
			b.WriteString(toolOutputMarker)
			for _, logs := range ev.Logs {
				b.WriteString("\n")
				b.WriteString(logs)
				b.WriteString("\n")
			}
		case assistant.EventError:
			return "", ev.Err
		case assistant.EventDone:
			return b.String(), nil
		}
	}
	return "", fmt.Errorf("event stream closed without terminal event")
}
