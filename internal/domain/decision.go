package domain

// Action is the closed set of moves the decision service may request.
type Action string

const (
	ActionRepeat     Action = "repeat"
	ActionNext       Action = "next"
	ActionClarify    Action = "clarify"
	ActionReschedule Action = "reschedule"
	ActionEnd        Action = "end"
	ActionUnknown    Action = "unknown"
)

// Actions lists every valid action.
var Actions = []Action{ActionRepeat, ActionNext, ActionClarify, ActionReschedule, ActionEnd, ActionUnknown}

// ParseAction maps raw text onto the enumeration.
func ParseAction(raw string) (Action, bool) {
	for _, a := range Actions {
		if string(a) == raw {
			return a, true
		}
	}
	return ActionUnknown, false
}

// DecisionResult is the validated output of one classification.
type DecisionResult struct {
	Action  Action
	Message string
}

// Exchange is one question/answer pair of conversation history.
type Exchange struct {
	Question string
	Answer   string
}
