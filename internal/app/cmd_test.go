package app

import (
	"bytes"
	"testing"
)

func TestNewCLI_RegistersCommands(t *testing.T) {
	app := NewCLI(&bytes.Buffer{})

	want := []Command{CommandServe, CommandWorker, CommandMigrate, CommandHealthcheck, CommandResolve}
	for _, cmd := range want {
		if app.Command(string(cmd)) == nil {
			t.Errorf("command %q is not registered", cmd)
		}
	}
	if app.Action == nil {
		t.Error("コマンド省略時のActionが必要")
	}
}

func TestCommandString(t *testing.T) {
	tests := []struct {
		cmd  Command
		want string
	}{
		{CommandServe, "serve"},
		{CommandWorker, "worker"},
		{CommandMigrate, "migrate"},
		{CommandHealthcheck, "healthcheck"},
		{CommandResolve, "resolve"},
	}
	for _, tt := range tests {
		if string(tt.cmd) != tt.want {
			t.Errorf("Command = %q, want %q", tt.cmd, tt.want)
		}
	}
}
