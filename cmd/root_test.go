package cmd

import (
	"testing"
)

func TestSetVersion(t *testing.T) {
	testVersion := "1.2.3-test"
	originalVersion := rootCmd.Version
	defer func() { rootCmd.Version = originalVersion }()

	SetVersion(testVersion)

	if rootCmd.Version != testVersion {
		t.Errorf("Expected version to be %s, got %s", testVersion, rootCmd.Version)
	}
	if GetVersion() != testVersion {
		t.Errorf("Expected GetVersion to return %s, got %s", testVersion, GetVersion())
	}
}

func TestRootCommand(t *testing.T) {
	if rootCmd.Use != "mcphub" {
		t.Errorf("Expected Use to be 'mcphub', got %s", rootCmd.Use)
	}
	if rootCmd.Short == "" {
		t.Error("Expected Short description to be set")
	}
	if rootCmd.Long == "" {
		t.Error("Expected Long description to be set")
	}
	if !rootCmd.SilenceUsage {
		t.Error("Expected SilenceUsage to be true")
	}
}

func TestRegisteredSubcommands(t *testing.T) {
	expected := map[string]bool{
		"serve":   false,
		"list":    false,
		"check":   false,
		"version": false,
	}

	for _, sub := range rootCmd.Commands() {
		if _, ok := expected[sub.Name()]; ok {
			expected[sub.Name()] = true
		}
	}

	for name, found := range expected {
		if !found {
			t.Errorf("Expected subcommand %q to be registered", name)
		}
	}
}
