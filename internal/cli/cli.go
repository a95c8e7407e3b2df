package cli

import (
	"errors"
	"fmt"
	"strings"
)

type Command string

const (
	CommandRun         Command = "run"
	CommandStart       Command = "start"
	CommandStatus      Command = "status"
	CommandParticipant Command = "participant"
	CommandPoll        Command = "poll"
	CommandDebug       Command = "debug"
	CommandPorts       Command = "ports"
	CommandHealth      Command = "health"
	CommandDoctor      Command = "doctor"
	CommandVersion     Command = "version"
	CommandHelp        Command = "help"
)

// commandArity maps each command to its accepted argument count range.
var commandArity = map[Command][2]int{
	CommandRun:         {0, 0},
	CommandStart:       {0, 0},
	CommandStatus:      {0, 0},
	CommandParticipant: {1, 2},
	CommandPoll:        {1, 1},
	CommandDebug:       {1, 1},
	CommandPorts:       {0, 0},
	CommandHealth:      {0, 0},
	CommandDoctor:      {0, 0},
	CommandVersion:     {0, 0},
	CommandHelp:        {0, 0},
}

type Parsed struct {
	Command    Command
	Args       []string
	ConfigPath string
	ShowHelp   bool
}

func Parse(args []string) (Parsed, error) {
	parsed := Parsed{Command: CommandHelp, ShowHelp: true}

	for i := 0; i < len(args); i++ {
		arg := args[i]

		switch arg {
		case "-h", "--help":
			parsed.ShowHelp = true
			parsed.Command = CommandHelp
		case "--version":
			parsed.ShowHelp = false
			parsed.Command = CommandVersion
		case "--config":
			i++
			if i >= len(args) {
				return Parsed{}, errors.New("--config requires a path")
			}
			parsed.ConfigPath = args[i]
		default:
			if strings.HasPrefix(arg, "-") {
				return Parsed{}, fmt.Errorf("unknown flag: %s", arg)
			}

			cmd := Command(arg)
			arity, ok := commandArity[cmd]
			if !ok {
				return Parsed{}, fmt.Errorf("unknown command: %s", arg)
			}

			rest := args[i+1:]
			if len(rest) > arity[1] {
				return Parsed{}, fmt.Errorf("unexpected arguments after command %q", arg)
			}
			if len(rest) < arity[0] {
				return Parsed{}, fmt.Errorf("command %q requires %d argument(s)", arg, arity[0])
			}
			if err := validateArgs(cmd, rest); err != nil {
				return Parsed{}, err
			}

			parsed.Command = cmd
			parsed.Args = append([]string(nil), rest...)
			parsed.ShowHelp = cmd == CommandHelp
			return parsed, nil
		}
	}

	return parsed, nil
}

func validateArgs(cmd Command, args []string) error {
	switch cmd {
	case CommandPoll, CommandDebug:
		if args[0] != "on" && args[0] != "off" {
			return fmt.Errorf("%s expects on or off, got %q", cmd, args[0])
		}
	case CommandParticipant:
		if strings.HasPrefix(args[0], "-") {
			return fmt.Errorf("participant id must come before %s", args[0])
		}
		if len(args) == 2 && args[1] != "--force" {
			return fmt.Errorf("unexpected argument %q after participant id", args[1])
		}
	}
	return nil
}

func HelpText(binaryName string) string {
	return fmt.Sprintf(`Usage:
  %[1]s [--config PATH] <command> [args]

Commands:
  run                        Own the controller port and serve the operator console
  start                      Start the next task
  status                     Print trial, device, and recording state
  participant <id> [--force] Select participant (1-100); --force reuses an existing directory
  poll on|off                Toggle periodic impedance/temperature sampling
  debug on|off               Toggle recording to the debug file
  ports                      List candidate serial ports
  health                     Query the gRPC health endpoint
  doctor                     Run configuration and environment checks
  version                    Print version information
  help                       Show this help

Flags:
  --config PATH   Config file path (default: $GRIPRIG_CONFIG, then $XDG_CONFIG_HOME/griprig/config.toml)
  -h, --help      Show help
  --version       Show version
`, binaryName)
}
