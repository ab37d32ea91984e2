package model

// ConfirmationState is the position of a human-in-the-loop request in its state machine
type ConfirmationState string

const (
	ConfirmationRequested ConfirmationState = "requested"
	ConfirmationAwaiting  ConfirmationState = "awaiting_response"
	ConfirmationResolved  ConfirmationState = "resolved"
	ConfirmationInvalid   ConfirmationState = "invalid"
)

// Confirmation is the human-in-the-loop view attached to a ToolCall
type Confirmation struct {
	State    ConfirmationState     `json:"state"`
	Response *ConfirmationResponse `json:"response,omitempty"`
}

// ConfirmationResponse is the continuation payload handed back to the remote agent
type ConfirmationResponse struct {
	Confirmed bool   `json:"confirmed"`
	RoleType  string `json:"role_type,omitempty"`
	Location  string `json:"location,omitempty"`
}

// ToMap converts the response into the function-response object sent to the agent
func (r ConfirmationResponse) ToMap() map[string]any {
	m := map[string]any{"confirmed": r.Confirmed}
	if r.RoleType != "" {
		m["role_type"] = r.RoleType
	}
	if r.Location != "" {
		m["location"] = r.Location
	}
	return m
}
