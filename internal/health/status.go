// Package health implements the staged player connection check and the
// periodic monitor that runs it across the fleet.
package health

// Status is the terminal outcome of a pipeline run.
type Status int

const (
	Online Status = iota
	IcmpPingFailed
	TcpConnectionFailed
	WebSocketPingFailed
	RegistrationFailed
)

var statusStrings = map[Status]string{
	Online:              "Online",
	IcmpPingFailed:      "IcmpPingFailed",
	TcpConnectionFailed: "TcpConnectionFailed",
	WebSocketPingFailed: "WebSocketPingFailed",
	RegistrationFailed:  "RegistrationFailed",
}

// String returns the string representation of Status.
func (s Status) String() string {
	if str, ok := statusStrings[s]; ok {
		return str
	}
	return "Unknown"
}

// MarshalJSON serializes Status as a JSON string (e.g. "Online").
func (s Status) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// StepName names one pipeline stage.
type StepName string

const (
	StepIcmpPing   StepName = "IcmpPing"
	StepTcpConnect StepName = "TcpConnect"
	StepWsPing     StepName = "WsPing"
	StepRegister   StepName = "Register"
)
