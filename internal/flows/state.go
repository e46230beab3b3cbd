package flows

import "fmt"

// State is one step of the login state machine.
type State string

const (
	StateStart              State = "START"
	StateCredentialsChecked State = "CREDENTIALS_CHECKED"
	StateMFAPending         State = "MFA_PENDING"
	StateMFAVerified        State = "MFA_VERIFIED"
	StateSessionIssued      State = "SESSION_ISSUED"
	StateRejected           State = "REJECTED"
)

// transitions lists the legal successors of each state. REJECTED is reachable
// from every non-terminal state and is handled by Reject.
var transitions = map[State][]State{
	StateStart:              {StateCredentialsChecked},
	StateCredentialsChecked: {StateMFAPending, StateSessionIssued},
	StateMFAPending:         {StateMFAVerified},
	StateMFAVerified:        {StateSessionIssued},
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateSessionIssued || s == StateRejected
}

// Machine tracks the state of one login or MFA verification. The zero value
// is not usable; use New or Resume.
type Machine struct {
	state State
	path  []State
}

// New returns a machine in StateStart.
func New() *Machine {
	return &Machine{state: StateStart, path: []State{StateStart}}
}

// Resume returns a machine that continues from s. VerifyMFA resumes from
// StateMFAPending because the login that produced the challenge has ended.
func Resume(s State) *Machine {
	return &Machine{state: s, path: []State{s}}
}

// State returns the current state.
func (m *Machine) State() State {
	return m.state
}

// Path returns every state visited, oldest first.
func (m *Machine) Path() []State {
	return append([]State(nil), m.path...)
}

// Advance moves to next, failing on a transition the machine does not allow.
func (m *Machine) Advance(next State) error {
	for _, allowed := range transitions[m.state] {
		if allowed == next {
			m.state = next
			m.path = append(m.path, next)
			return nil
		}
	}
	return fmt.Errorf("flows: illegal transition %s -> %s", m.state, next)
}

// Reject moves to StateRejected. It is a no-op on a terminal machine.
func (m *Machine) Reject() {
	if m.state.Terminal() {
		return
	}
	m.state = StateRejected
	m.path = append(m.path, StateRejected)
}
