package ipc

// Console commands understood by the rig daemon.
const (
	CommandStatus      = "status"
	CommandStart       = "start"
	CommandParticipant = "participant"
	CommandPoll        = "poll"
	CommandDebug       = "debug"
	CommandPorts       = "ports"
)

type Request struct {
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
}

type Response struct {
	OK      bool   `json:"ok"`
	State   string `json:"state,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}
