package cli

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseDefaultsToHelp(t *testing.T) {
	parsed, err := Parse(nil)
	require.NoError(t, err)
	require.True(t, parsed.ShowHelp)
	require.Equal(t, CommandHelp, parsed.Command)
}

func TestParseCommandWithConfig(t *testing.T) {
	parsed, err := Parse([]string{"--config", "/tmp/griprig.toml", "doctor"})
	require.NoError(t, err)
	require.Equal(t, CommandDoctor, parsed.Command)
	require.Equal(t, "/tmp/griprig.toml", parsed.ConfigPath)
	require.False(t, parsed.ShowHelp)
	require.Empty(t, parsed.Args)
}

func TestParseArgMatrix(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantErr  string
		wantCmd  Command
		wantArgs []string
		wantHelp bool
		wantPath string
	}{
		{
			name:     "help short flag",
			args:     []string{"-h"},
			wantCmd:  CommandHelp,
			wantHelp: true,
		},
		{
			name:     "help long flag",
			args:     []string{"--help"},
			wantCmd:  CommandHelp,
			wantHelp: true,
		},
		{
			name:    "version flag",
			args:    []string{"--version"},
			wantCmd: CommandVersion,
		},
		{
			name:    "config after command",
			args:    []string{"status", "--config", "/tmp/cfg"},
			wantErr: "unexpected arguments after command",
		},
		{
			name:    "missing config path",
			args:    []string{"--config"},
			wantErr: "requires a path",
		},
		{
			name:    "unknown flag",
			args:    []string{"--bogus"},
			wantErr: "unknown flag",
		},
		{
			name:    "unknown command",
			args:    []string{"bogus"},
			wantErr: "unknown command",
		},
		{
			name:    "extra args after command",
			args:    []string{"doctor", "extra"},
			wantErr: "unexpected arguments",
		},
		{
			name:    "run",
			args:    []string{"run"},
			wantCmd: CommandRun,
		},
		{
			name:     "start with config",
			args:     []string{"--config", "/tmp/cfg", "start"},
			wantCmd:  CommandStart,
			wantPath: "/tmp/cfg",
		},
		{
			name:     "participant",
			args:     []string{"participant", "12"},
			wantCmd:  CommandParticipant,
			wantArgs: []string{"12"},
		},
		{
			name:     "participant force",
			args:     []string{"participant", "12", "--force"},
			wantCmd:  CommandParticipant,
			wantArgs: []string{"12", "--force"},
		},
		{
			name:    "participant missing id",
			args:    []string{"participant"},
			wantErr: "requires 1 argument",
		},
		{
			name:    "participant flag first",
			args:    []string{"participant", "--force", "12"},
			wantErr: "must come before",
		},
		{
			name:    "participant bad trailing",
			args:    []string{"participant", "12", "now"},
			wantErr: "unexpected argument",
		},
		{
			name:     "poll on",
			args:     []string{"poll", "on"},
			wantCmd:  CommandPoll,
			wantArgs: []string{"on"},
		},
		{
			name:    "debug bad value",
			args:    []string{"debug", "yes"},
			wantErr: "expects on or off",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			parsed, err := Parse(tc.args)
			if tc.wantErr != "" {
				require.Error(t, err)
				require.Contains(t, err.Error(), tc.wantErr)
				return
			}

			require.NoError(t, err)
			require.Equal(t, tc.wantCmd, parsed.Command)
			require.Equal(t, tc.wantHelp, parsed.ShowHelp)
			require.Equal(t, tc.wantPath, parsed.ConfigPath)
			if tc.wantArgs == nil {
				require.Empty(t, parsed.Args)
			} else {
				require.Equal(t, tc.wantArgs, parsed.Args)
			}
		})
	}
}

func TestHelpTextIncludesCoreCommands(t *testing.T) {
	text := HelpText("griprig")
	require.Contains(t, text, "run")
	require.Contains(t, text, "participant <id> [--force]")
	require.Contains(t, text, "poll on|off")
	require.Contains(t, text, "health")
	require.Contains(t, text, "--config PATH")
	require.Contains(t, text, "griprig/config.toml")
}
