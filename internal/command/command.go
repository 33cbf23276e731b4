// Package command maps the closed set of chat tool intents onto lifecycle
// engine calls. It adds no authorization of its own: every intent runs
// through the same engine method, with the same identity, as the HTTP API.
package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/iliyamo/community-gate/internal/apperr"
	"github.com/iliyamo/community-gate/internal/model"
	"github.com/iliyamo/community-gate/internal/visitor"
)

// Intent names one tool the chat model may call.
type Intent string

const (
	IntentApprove  Intent = "approve_visitor"
	IntentDeny     Intent = "deny_visitor"
	IntentCheckIn  Intent = "checkin_visitor"
	IntentCheckOut Intent = "checkout_visitor"
	IntentList     Intent = "list_visitors"
)

// Intents lists every intent in declaration order.
var Intents = []Intent{IntentApprove, IntentDeny, IntentCheckIn, IntentCheckOut, IntentList}

// Args are the typed arguments of a call. Only the fields used by the
// intent are read.
type Args struct {
	VisitorID string
	Reason    string
	Status    string
}

// Call is one parsed tool invocation.
type Call struct {
	Intent Intent
	Args   Args
}

// ParseCall validates a raw tool call coming from the model.
func ParseCall(name string, raw map[string]any) (Call, error) {
	c := Call{Intent: Intent(name)}
	str := func(key string) string {
		v, _ := raw[key].(string)
		return strings.TrimSpace(v)
	}
	switch c.Intent {
	case IntentApprove, IntentCheckIn, IntentCheckOut:
		c.Args.VisitorID = str("visitorId")
	case IntentDeny:
		c.Args.VisitorID = str("visitorId")
		c.Args.Reason = str("reason")
	case IntentList:
		c.Args.Status = str("status")
	default:
		return Call{}, apperr.Newf(apperr.CodeValidation, "unknown function %q", name)
	}
	if c.Intent != IntentList && c.Args.VisitorID == "" {
		return Call{}, apperr.Validation("visitorId is required")
	}
	return c, nil
}

// Result is what a call produced. Transitions carry the updated visitor;
// list calls carry the matches.
type Result struct {
	Success  bool            `json:"success"`
	Message  string          `json:"message"`
	Visitor  *model.Visitor  `json:"visitor,omitempty"`
	Visitors []model.Visitor `json:"visitors,omitempty"`
}

// Engine is the subset of the lifecycle engine the dispatcher drives.
type Engine interface {
	Approve(ctx context.Context, caller model.Identity, visitorID string) (model.Visitor, error)
	Deny(ctx context.Context, caller model.Identity, visitorID, reason string) (model.Visitor, error)
	CheckIn(ctx context.Context, caller model.Identity, visitorID string) (model.Visitor, error)
	CheckOut(ctx context.Context, caller model.Identity, visitorID string) (model.Visitor, error)
	List(ctx context.Context, caller model.Identity, status string) ([]model.Visitor, error)
}

var _ Engine = (*visitor.Engine)(nil)

// Dispatcher executes calls against an Engine.
type Dispatcher struct{ engine Engine }

func NewDispatcher(engine Engine) *Dispatcher { return &Dispatcher{engine: engine} }

// Dispatch runs call for caller. Engine errors are returned unchanged.
func (d *Dispatcher) Dispatch(ctx context.Context, caller model.Identity, call Call) (Result, error) {
	var (
		v   model.Visitor
		err error
	)
	switch call.Intent {
	case IntentApprove:
		v, err = d.engine.Approve(ctx, caller, call.Args.VisitorID)
		if err == nil {
			return Result{Success: true, Message: fmt.Sprintf("Visitor %s approved", v.Name), Visitor: &v}, nil
		}
	case IntentDeny:
		v, err = d.engine.Deny(ctx, caller, call.Args.VisitorID, call.Args.Reason)
		if err == nil {
			reason := model.DefaultDenialReason
			if v.DenialReason != nil {
				reason = *v.DenialReason
			}
			return Result{Success: true, Message: fmt.Sprintf("Visitor %s denied: %s", v.Name, reason), Visitor: &v}, nil
		}
	case IntentCheckIn:
		v, err = d.engine.CheckIn(ctx, caller, call.Args.VisitorID)
		if err == nil {
			return Result{Success: true, Message: fmt.Sprintf("Visitor %s checked in", v.Name), Visitor: &v}, nil
		}
	case IntentCheckOut:
		v, err = d.engine.CheckOut(ctx, caller, call.Args.VisitorID)
		if err == nil {
			return Result{Success: true, Message: fmt.Sprintf("Visitor %s checked out", v.Name), Visitor: &v}, nil
		}
	case IntentList:
		vs, lerr := d.engine.List(ctx, caller, call.Args.Status)
		if lerr == nil {
			label := call.Args.Status
			if label == "" {
				label = model.StatusAll
			}
			return Result{Success: true, Message: fmt.Sprintf("Found %d visitors (%s)", len(vs), label), Visitors: vs}, nil
		}
		err = lerr
	default:
		err = apperr.Newf(apperr.CodeValidation, "unknown function %q", call.Intent)
	}
	return Result{}, err
}
