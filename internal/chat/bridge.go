// Package chat turns a natural-language request into at most one lifecycle
// command and a summarized reply. The model only chooses the intent; the
// command dispatcher applies the caller's own identity and permissions.
package chat

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/community-gate/internal/apperr"
	"github.com/iliyamo/community-gate/internal/command"
	"github.com/iliyamo/community-gate/internal/model"
)

// Turn roles as exchanged with clients.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// maxHistory bounds the conversation sent back and forth.
const maxHistory = 20

// Turn is one message of the conversation.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is the POST /chat body.
type Request struct {
	Message             string `json:"message"`
	ConversationHistory []Turn `json:"conversationHistory"`
}

// Response is the POST /chat reply.
type Response struct {
	Message             string `json:"message"`
	FunctionCalled      string `json:"functionCalled,omitempty"`
	ConversationHistory []Turn `json:"conversationHistory"`
}

// ToolCall is the model's choice of a function and its raw arguments.
type ToolCall struct {
	Name string
	Args map[string]any
}

// Completer is the completion model. Plan returns either a reply or a tool
// call; Summarize phrases the outcome of that call for the user.
type Completer interface {
	Plan(ctx context.Context, history []Turn, message string) (reply string, call *ToolCall, err error)
	Summarize(ctx context.Context, history []Turn, message string, call ToolCall, outcome string) (string, error)
}

// Bridge handles chat requests.
type Bridge struct {
	completer  Completer
	dispatcher *command.Dispatcher
	timeout    time.Duration
	logger     *zap.Logger
}

// NewBridge builds a Bridge. A nil completer makes every request fail with
// an unavailable error.
func NewBridge(completer Completer, dispatcher *command.Dispatcher, timeout time.Duration, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{completer: completer, dispatcher: dispatcher, timeout: timeout, logger: logger}
}

// Handle answers one chat message for caller.
func (b *Bridge) Handle(ctx context.Context, caller model.Identity, req Request) (Response, error) {
	if b.completer == nil {
		return Response{}, apperr.New(apperr.CodeUnavailable, "chat assistant is not configured")
	}
	if caller.UserID == "" {
		return Response{}, apperr.Unauthorized("authentication required")
	}
	msg := strings.TrimSpace(req.Message)
	if msg == "" {
		return Response{}, apperr.Validation("message is required")
	}
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}
	history := trim(req.ConversationHistory)

	reply, call, err := b.completer.Plan(ctx, history, msg)
	if err != nil {
		b.logger.Warn("chat completion failed", zap.Error(err))
		return Response{}, apperr.Wrap(apperr.CodeUnavailable, "chat assistant is unavailable", err)
	}

	var fn string
	if call != nil {
		fn = call.Name
		outcome := b.run(ctx, caller, *call)
		summary, serr := b.completer.Summarize(ctx, history, msg, *call, outcome)
		if serr != nil || strings.TrimSpace(summary) == "" {
			if serr != nil {
				b.logger.Warn("chat summary failed", zap.Error(serr))
			}
			summary = outcome
		}
		reply = summary
	}
	if strings.TrimSpace(reply) == "" {
		reply = "Sorry, I could not come up with an answer."
	}

	history = append(history, Turn{Role: RoleUser, Content: msg}, Turn{Role: RoleAssistant, Content: reply})
	return Response{Message: reply, FunctionCalled: fn, ConversationHistory: trim(history)}, nil
}

// run executes the call and renders its outcome as text for the summarizer.
// Errors become part of the text; the caller-facing message is what the
// model makes of it.
func (b *Bridge) run(ctx context.Context, caller model.Identity, tc ToolCall) string {
	call, err := command.ParseCall(tc.Name, tc.Args)
	if err == nil {
		var res command.Result
		res, err = b.dispatcher.Dispatch(ctx, caller, call)
		if err == nil {
			return formatResult(res)
		}
	}
	b.logger.Info("chat command rejected",
		zap.String("function", tc.Name),
		zap.String("user", caller.UserID),
		zap.Error(err))
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return "Error: " + ae.Message
	}
	return "Error: the action could not be completed"
}

func formatResult(res command.Result) string {
	var b strings.Builder
	b.WriteString(res.Message)
	for _, v := range res.Visitors {
		b.WriteString("\n- ")
		b.WriteString(v.Name)
		b.WriteString(" (id ")
		b.WriteString(v.ID)
		b.WriteString(", ")
		b.WriteString(string(v.Status))
		b.WriteString(", household ")
		b.WriteString(v.Household())
		b.WriteString(")")
	}
	return b.String()
}

// trim keeps the most recent valid turns.
func trim(turns []Turn) []Turn {
	out := make([]Turn, 0, len(turns))
	for _, t := range turns {
		if (t.Role == RoleUser || t.Role == RoleAssistant) && strings.TrimSpace(t.Content) != "" {
			out = append(out, t)
		}
	}
	if len(out) > maxHistory {
		out = out[len(out)-maxHistory:]
	}
	return out
}
