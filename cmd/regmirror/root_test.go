package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func cmdOutput(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewRootCmd()
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestVersion(t *testing.T) {
	out, err := cmdOutput(t, "version")
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if !strings.Contains(out, "version:") {
		t.Errorf("got output %q", out)
	}
}

// serve and config cannot run without a config file, version can. The config
// flag lives on the root command, so the gate is a per subcommand check.
func TestConfigFlagRequired(t *testing.T) {
	for _, sub := range []string{"serve", "config"} {
		t.Run(sub, func(t *testing.T) {
			_, err := cmdOutput(t, sub)
			if err == nil || !strings.Contains(err.Error(), "config file is required") {
				t.Errorf("got %v, want the missing config error", err)
			}
		})
	}
}

func TestConfigShow(t *testing.T) {
	confFile := filepath.Join(t.TempDir(), "mirror.yaml")
	if err := os.WriteFile(confFile, []byte("listen: localhost:6000\nnamespace: registry.example.com\n"), 0600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	out, err := cmdOutput(t, "config", "--config", confFile)
	if err != nil {
		t.Fatalf("config failed: %v", err)
	}
	if !strings.Contains(out, "listen: localhost:6000") {
		t.Errorf("got output %q", out)
	}
	if !strings.Contains(out, "namespace: registry.example.com") {
		t.Errorf("got output %q", out)
	}
}
