// ABOUTME: HTTP client for the OpenAI Assistants API (threads, messages, streamed runs)
// ABOUTME: Parses the run's SSE stream into a channel of events for the conversation layer

package assistant

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Message roles accepted by the threads API.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// EventType discriminates the values carried on a run's event stream.
type EventType string

const (
	// EventTextDelta carries a fragment of assistant reply text.
	EventTextDelta EventType = "text_delta"
	// EventToolInput carries a fragment of code-interpreter input.
	EventToolInput EventType = "tool_input"
	// EventToolOutput carries log output emitted by the code interpreter.
	EventToolOutput EventType = "tool_output"
	// EventError terminates the stream with a failure. No further events follow.
	EventError EventType = "error"
	// EventDone terminates the stream normally. No further events follow.
	EventDone EventType = "done"
)

// Event is one fragment of a streamed run. The stream is finite and
// non-restartable: it ends with exactly one EventDone or EventError,
// after which the channel is closed.
type Event struct {
	Type EventType
	Text string   // EventTextDelta and EventToolInput
	Logs []string // EventToolOutput
	Err  error    // EventError
}

// Config holds the provider connection settings.
type Config struct {
	BaseURL     string
	APIKey      string
	AssistantID string
	// HTTPClient overrides the default client, mainly for tests.
	HTTPClient *http.Client
}

// Client talks to the OpenAI Assistants v2 API.
type Client struct {
	baseURL     string
	apiKey      string
	assistantID string
	httpClient  *http.Client
}

// NewClient creates an assistant API client.
func NewClient(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		// Streamed runs can be long-lived; only bound the connect phase.
		httpClient = &http.Client{Timeout: 0}
	}
	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		assistantID: cfg.AssistantID,
		httpClient:  httpClient,
	}
}

type createThreadResponse struct {
	ID string `json:"id"`
}

// CreateThread creates a new conversation thread on the provider side and
// returns its handle.
func (c *Client) CreateThread(ctx context.Context) (string, error) {
	body, err := c.doRequest(ctx, http.MethodPost, "/threads", struct{}{})
	if err != nil {
		return "", err
	}
	defer body.Close()

	var resp createThreadResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return "", fmt.Errorf("decoding thread response: %w", err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("thread response missing id")
	}
	return resp.ID, nil
}

type createMessageRequest struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// AddMessage appends a message with the given role to a thread.
func (c *Client) AddMessage(ctx context.Context, threadID, role, content string) error {
	body, err := c.doRequest(ctx, http.MethodPost, "/threads/"+threadID+"/messages", createMessageRequest{
		Role:    role,
		Content: content,
	})
	if err != nil {
		return err
	}
	// Response body is the created message object; we only need success.
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 64*1024))
	return body.Close()
}

type createRunRequest struct {
	AssistantID string `json:"assistant_id"`
	Stream      bool   `json:"stream"`
}

// StreamRun starts a streamed assistant run against the thread and returns
// a channel of events. The channel is closed after a terminal EventDone or
// EventError. Canceling ctx aborts the stream.
func (c *Client) StreamRun(ctx context.Context, threadID string) (<-chan Event, error) {
	body, err := c.doRequest(ctx, http.MethodPost, "/threads/"+threadID+"/runs", createRunRequest{
		AssistantID: c.assistantID,
		Stream:      true,
	})
	if err != nil {
		return nil, err
	}

	events := make(chan Event, 16)
	go c.consumeStream(ctx, body, events)
	return events, nil
}

// messageDelta is the payload of a thread.message.delta SSE event.
type messageDelta struct {
	Delta struct {
		Content []struct {
			Type string `json:"type"`
			Text struct {
				Value string `json:"value"`
			} `json:"text"`
		} `json:"content"`
	} `json:"delta"`
}

// stepDelta is the payload of a thread.run.step.delta SSE event.
type stepDelta struct {
	Delta struct {
		StepDetails struct {
			Type      string `json:"type"`
			ToolCalls []struct {
				Type            string `json:"type"`
				CodeInterpreter struct {
					Input   string `json:"input"`
					Outputs []struct {
						Type string `json:"type"`
						Logs string `json:"logs"`
					} `json:"outputs"`
				} `json:"code_interpreter"`
			} `json:"tool_calls"`
		} `json:"step_details"`
	} `json:"delta"`
}

// runError is the payload of thread.run.failed and error SSE events.
type runError struct {
	LastError struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"last_error"`
	Message string `json:"message"`
}

// consumeStream reads the SSE body line by line and translates provider
// events into Event values. Exactly one terminal event is emitted.
func (c *Client) consumeStream(ctx context.Context, body io.ReadCloser, events chan<- Event) {
	defer body.Close()
	defer close(events)

	emit := func(ev Event) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 512*1024)

	var eventName string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event:") {
			eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			continue
		}
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			emit(Event{Type: EventDone})
			return
		}

		switch eventName {
		case "thread.message.delta":
			var delta messageDelta
			if err := json.Unmarshal([]byte(data), &delta); err != nil {
				continue
			}
			for _, content := range delta.Delta.Content {
				if content.Type == "text" && content.Text.Value != "" {
					if !emit(Event{Type: EventTextDelta, Text: content.Text.Value}) {
						return
					}
				}
			}

		case "thread.run.step.delta":
			var delta stepDelta
			if err := json.Unmarshal([]byte(data), &delta); err != nil {
				continue
			}
			for _, call := range delta.Delta.StepDetails.ToolCalls {
				if call.Type != "code_interpreter" {
					continue
				}
				if call.CodeInterpreter.Input != "" {
					if !emit(Event{Type: EventToolInput, Text: call.CodeInterpreter.Input}) {
						return
					}
				}
				var logs []string
				for _, out := range call.CodeInterpreter.Outputs {
					if out.Type == "logs" {
						logs = append(logs, out.Logs)
					}
				}
				if len(logs) > 0 {
					if !emit(Event{Type: EventToolOutput, Logs: logs}) {
						return
					}
				}
			}

		case "thread.run.failed", "error":
			var re runError
			_ = json.Unmarshal([]byte(data), &re)
			msg := re.LastError.Message
			if msg == "" {
				msg = re.Message
			}
			if msg == "" {
				msg = data
			}
			emit(Event{Type: EventError, Err: fmt.Errorf("run failed: %s", msg)})
			return

		case "done":
			emit(Event{Type: EventDone})
			return
		}
	}

	if err := scanner.Err(); err != nil {
		emit(Event{Type: EventError, Err: fmt.Errorf("reading stream: %w", err)})
		return
	}
	// The provider always terminates with a done event; an EOF without one
	// means the connection was cut mid-run.
	emit(Event{Type: EventError, Err: fmt.Errorf("stream ended without done event")})
}

// doRequest issues a JSON request and returns the response body on success.
func (c *Client) doRequest(ctx context.Context, method, path string, payload any) (io.ReadCloser, error) {
	buf := &bytes.Buffer{}
	if payload != nil {
		if err := json.NewEncoder(buf).Encode(payload); err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("OpenAI-Beta", "assistants=v2")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("assistant API %s: %s", resp.Status, data)
	}
	return resp.Body, nil
}
