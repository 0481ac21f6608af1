package exchange

// Exchange loop states
type State uint8

const (
	StateConfiguring State = iota
	StateEnabled
	StateTransmitting
	StateAwaitingReceive
	StateEvaluating
	StateSleeping
	StateTerminated
)

var stateDescription = map[State]string{
	StateConfiguring:     "CONFIGURING",
	StateEnabled:         "ENABLED",
	StateTransmitting:    "TRANSMITTING",
	StateAwaitingReceive: "AWAITING RECEIVE",
	StateEvaluating:      "EVALUATING",
	StateSleeping:        "SLEEPING",
	StateTerminated:      "TERMINATED",
}

func (s State) String() string {
	description, ok := stateDescription[s]
	if !ok {
		return "UNKNOWN"
	}
	return description
}
