// ABOUTME: Flow and stage definitions for multi-step operator conversations
// ABOUTME: Each flow is a fixed sequence of stages ending in one action

package conversation

import (
	"fmt"
	"time"
)

// Flow identifies a multi-step operator conversation.
type Flow string

const (
	FlowAddAssistant Flow = "add_assistant"
	FlowJoin         Flow = "join"
	FlowLeave        Flow = "leave"
	FlowBroadcast    Flow = "broadcast"
	FlowAddAdmin     Flow = "add_admin"
	FlowRemoveAdmin  Flow = "remove_admin"
)

// Stage is the input a flow is waiting for.
type Stage string

const (
	StageAPIID   Stage = "api_id"
	StageAPIHash Stage = "api_hash"
	StageSession Stage = "session"
	StageLink    Stage = "link"
	StageCount   Stage = "count"
	StageSelect  Stage = "select"
	StageMessage Stage = "message"
	StageDelay   Stage = "delay"
	StageUserID  Stage = "user_id"
)

// stages lists each flow's inputs in order.
var stages = map[Flow][]Stage{
	FlowAddAssistant: {StageAPIID, StageAPIHash, StageSession},
	FlowJoin:         {StageLink, StageCount, StageDelay},
	FlowLeave:        {StageLink, StageCount, StageDelay},
	FlowBroadcast:    {StageLink, StageSelect, StageMessage, StageDelay},
	FlowAddAdmin:     {StageUserID},
	FlowRemoveAdmin:  {StageUserID},
}

// Valid reports whether f is a known flow.
func (f Flow) Valid() bool {
	_, ok := stages[f]
	return ok
}

// OwnerOnly reports whether only the owner may start f.
func (f Flow) OwnerOnly() bool {
	return f == FlowAddAdmin || f == FlowRemoveAdmin
}

// NeedsLiveAssistants reports whether f acts on live assistants.
func (f Flow) NeedsLiveAssistants() bool {
	return f == FlowJoin || f == FlowLeave || f == FlowBroadcast
}

// next returns the stage after s in f, or "" if s is the last one.
func (f Flow) next(s Stage) Stage {
	seq := stages[f]
	for i, st := range seq {
		if st == s && i+1 < len(seq) {
			return seq[i+1]
		}
	}
	return ""
}

func (f Flow) first() Stage {
	return stages[f][0]
}

// Scratch holds the inputs collected so far.
type Scratch struct {
	APIID        int64
	APIHash      string
	Session      string
	Link         string
	Count        int
	// Offered is the assistant list shown at the SELECT stage, in display order.
	Offered      []int64
	AssistantIDs []int64
	Message      string
	Delay        time.Duration
	UserID       int64
}

// Session is one operator's in-progress flow.
type Session struct {
	Operator  int64
	Flow      Flow
	Stage     Stage
	Scratch   Scratch
	StartedAt time.Time
}

// ValidationError reports input rejected at a stage. It ends the flow.
type ValidationError struct {
	Stage  Stage
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", stageLabel(e.Stage), e.Reason)
}

func stageLabel(s Stage) string {
	switch s {
	case StageAPIID:
		return "API ID"
	case StageAPIHash:
		return "API hash"
	case StageSession:
		return "session"
	case StageLink:
		return "link"
	case StageCount:
		return "count"
	case StageSelect:
		return "selection"
	case StageMessage:
		return "message"
	case StageDelay:
		return "delay"
	case StageUserID:
		return "user id"
	default:
		return string(s)
	}
}
