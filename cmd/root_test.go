package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	cmds := rootCmd.Commands()

	// Collect subcommand names.
	names := make(map[string]bool)
	for _, c := range cmds {
		names[c.Name()] = true
	}

	// Verify expected subcommands are registered.
	expected := []string{"run", "serve", "runs", "leads", "config"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "leadstorm", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestRunCommand_Flags(t *testing.T) {
	for _, name := range []string{"city", "keyword", "max-leads", "json"} {
		assert.NotNil(t, runCmd.Flags().Lookup(name), "run command should have --%s flag", name)
	}
	assert.Equal(t, "0", runCmd.Flags().Lookup("max-leads").DefValue)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestRunsCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range runsCmd.Commands() {
		names[c.Name()] = true
	}

	for _, name := range []string{"list", "show", "stop", "stats"} {
		assert.True(t, names[name], "expected runs subcommand %q not found", name)
	}
}

func TestLeadsCommand_Flags(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range leadsCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"list", "export", "clear"} {
		assert.True(t, names[name], "expected leads subcommand %q not found", name)
	}

	format := leadsExportCmd.Flags().Lookup("format")
	require.NotNil(t, format)
	assert.Equal(t, "csv", format.DefValue)

	yes := leadsClearCmd.Flags().Lookup("yes")
	require.NotNil(t, yes)
	assert.Equal(t, "false", yes.DefValue)
}

func TestLeadsClear_RequiresConfirmation(t *testing.T) {
	err := leadsClearCmd.RunE(leadsClearCmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--yes")
}
