// Package mock provides a test double for the Discord session.
package mock

import (
	"io"
	"net/http"
	"strconv"
	"sync"

	"github.com/bwmarrin/discordgo"
)

// SentMessage is one recorded ChannelMessageSendComplex call. File bodies are
// read eagerly so tests can assert on them.
type SentMessage struct {
	ChannelID string
	Data      *discordgo.MessageSend
	Files     map[string][]byte
}

// Session records calls and serves canned history. All fields may be set
// before use; the zero value is ready.
type Session struct {
	mu sync.Mutex

	// Messages maps channel ID to its history, newest first.
	Messages map[string][]*discordgo.Message

	// Responses records all InteractionRespond calls.
	Responses []*discordgo.InteractionResponse

	// Sent records all ChannelMessageSendComplex calls.
	Sent []SentMessage

	// Registered records the commands passed to ApplicationCommandBulkOverwrite.
	Registered []*discordgo.ApplicationCommand

	// HistoryCalls counts ChannelMessages calls.
	HistoryCalls int

	// SendErrs are returned, in order, by successive
	// ChannelMessageSendComplex calls before SendFunc or the default applies.
	SendErrs []error

	// SendFunc, when set, builds the reply to ChannelMessageSendComplex.
	SendFunc func(channelID string, data *discordgo.MessageSend) (*discordgo.Message, error)

	// HistoryErr, RespondErr and OpenErr are returned by the matching call
	// when non-nil.
	HistoryErr error
	RespondErr error
	OpenErr    error

	Opened   bool
	Closed   bool
	handlers []any
}

// Open marks the session open.
func (m *Session) Open() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.OpenErr != nil {
		return m.OpenErr
	}
	m.Opened = true
	return nil
}

// Close marks the session closed.
func (m *Session) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return nil
}

// AddHandler stores handler for [Session.Emit].
func (m *Session) AddHandler(handler any) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, handler)
	idx := len(m.handlers) - 1
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.handlers[idx] = nil
	}
}

// HandlerCount returns the number of installed handlers.
func (m *Session) HandlerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, h := range m.handlers {
		if h != nil {
			n++
		}
	}
	return n
}

// Emit synchronously delivers ev to every installed handler that accepts its
// type, the way the gateway would. Handlers receive a nil *discordgo.Session.
func (m *Session) Emit(ev any) {
	m.mu.Lock()
	hs := append([]any(nil), m.handlers...)
	m.mu.Unlock()

	for _, h := range hs {
		switch fn := h.(type) {
		case func(*discordgo.Session, *discordgo.Ready):
			if e, ok := ev.(*discordgo.Ready); ok {
				fn(nil, e)
			}
		case func(*discordgo.Session, *discordgo.MessageCreate):
			if e, ok := ev.(*discordgo.MessageCreate); ok {
				fn(nil, e)
			}
		case func(*discordgo.Session, *discordgo.InteractionCreate):
			if e, ok := ev.(*discordgo.InteractionCreate); ok {
				fn(nil, e)
			}
		}
	}
}

// ChannelMessages pages through Messages like the REST endpoint: up to limit
// messages strictly older than beforeID.
func (m *Session) ChannelMessages(channelID string, limit int, beforeID, _, _ string, _ ...discordgo.RequestOption) ([]*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.HistoryCalls++
	if m.HistoryErr != nil {
		return nil, m.HistoryErr
	}

	all := m.Messages[channelID]
	start := 0
	if beforeID != "" {
		start = len(all)
		for i, msg := range all {
			if msg.ID == beforeID {
				start = i + 1
				break
			}
		}
	}
	end := min(start+limit, len(all))
	return append([]*discordgo.Message(nil), all[start:end]...), nil
}

// ChannelMessage looks a message up in Messages, which includes sent
// messages. A miss returns a 404 REST error.
func (m *Session) ChannelMessage(channelID, messageID string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.Messages[channelID] {
		if msg.ID == messageID {
			return msg, nil
		}
	}
	return nil, &discordgo.RESTError{
		Response:     &http.Response{StatusCode: http.StatusNotFound, Status: "404 Not Found"},
		ResponseBody: []byte(`{"message":"Unknown Message","code":10008}`),
		Message:      &discordgo.APIErrorMessage{Code: discordgo.ErrCodeUnknownMessage, Message: "Unknown Message"},
	}
}

// ChannelMessageSendComplex records the send and returns SendErrs, SendFunc's
// reply, or a message with one attachment per file.
func (m *Session) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	sent := SentMessage{ChannelID: channelID, Data: data, Files: make(map[string][]byte)}
	for _, f := range data.Files {
		b, err := io.ReadAll(f.Reader)
		if err != nil {
			return nil, err
		}
		sent.Files[f.Name] = b
	}

	m.mu.Lock()
	m.Sent = append(m.Sent, sent)
	n := len(m.Sent)
	if len(m.SendErrs) > 0 {
		err := m.SendErrs[0]
		m.SendErrs = m.SendErrs[1:]
		if err != nil {
			m.mu.Unlock()
			return nil, err
		}
	}
	fn := m.SendFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(channelID, data)
	}

	msg := &discordgo.Message{ID: "sent-" + strconv.Itoa(n), ChannelID: channelID, Content: data.Content}
	for i, f := range data.Files {
		msg.Attachments = append(msg.Attachments, &discordgo.MessageAttachment{
			ID:       "att-" + strconv.Itoa(n) + "-" + strconv.Itoa(i),
			Filename: f.Name,
			URL:      "https://cdn.example/" + channelID + "/" + f.Name,
			Size:     len(sent.Files[f.Name]),
		})
	}

	m.mu.Lock()
	if m.Messages == nil {
		m.Messages = make(map[string][]*discordgo.Message)
	}
	m.Messages[channelID] = append([]*discordgo.Message{msg}, m.Messages[channelID]...)
	m.mu.Unlock()
	return msg, nil
}

// InteractionRespond records the response and returns RespondErr.
func (m *Session) InteractionRespond(_ *discordgo.Interaction, resp *discordgo.InteractionResponse, _ ...discordgo.RequestOption) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Responses = append(m.Responses, resp)
	return m.RespondErr
}

// ApplicationCommandBulkOverwrite records cmds and echoes them back.
func (m *Session) ApplicationCommandBulkOverwrite(_, _ string, cmds []*discordgo.ApplicationCommand, _ ...discordgo.RequestOption) ([]*discordgo.ApplicationCommand, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Registered = append(m.Registered, cmds...)
	return cmds, nil
}

// LastResponse returns the most recently recorded response, or nil.
func (m *Session) LastResponse() *discordgo.InteractionResponse {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Responses) == 0 {
		return nil
	}
	return m.Responses[len(m.Responses)-1]
}

// SentCount returns the number of recorded sends.
func (m *Session) SentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Sent)
}

// RateLimitError returns an error shaped like a Discord HTTP 429 response.
func RateLimitError() error {
	return &discordgo.RESTError{
		Response:     &http.Response{StatusCode: http.StatusTooManyRequests, Status: "429 Too Many Requests"},
		ResponseBody: []byte(`{"message":"You are being rate limited.","retry_after":0.1}`),
	}
}

// RegisteredCommands returns a copy of the registered commands.
func (m *Session) RegisteredCommands() []*discordgo.ApplicationCommand {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*discordgo.ApplicationCommand(nil), m.Registered...)
}
