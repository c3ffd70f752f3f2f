package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	cmds := rootCmd.Commands()

	names := make(map[string]bool)
	for _, c := range cmds {
		names[c.Name()] = true
	}

	expected := []string{"graph", "pophex", "coverage", "isochrone", "version"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "coverage-cli", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestGraphCommand_HasBuild(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range graphCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["build"])
}

func TestGraphBuildCommand_Flags(t *testing.T) {
	for _, flagName := range []string{"osm", "out", "min-edge-length"} {
		flag := graphBuildCmd.Flags().Lookup(flagName)
		assert.NotNil(t, flag, "graph build should have --%s flag", flagName)
	}
}

func TestPophexCommand_Flags(t *testing.T) {
	for _, flagName := range []string{"raster", "var", "resolution", "dataset", "csv"} {
		flag := pophexCmd.Flags().Lookup(flagName)
		assert.NotNil(t, flag, "pophex should have --%s flag", flagName)
	}
}

func TestCoverageCommand_Flags(t *testing.T) {
	for _, flagName := range []string{"points", "population", "h3-resolution", "out", "scenario", "save"} {
		flag := coverageCmd.Flags().Lookup(flagName)
		assert.NotNil(t, flag, "coverage should have --%s flag", flagName)
	}
}

func TestIsochroneCommand_Flags(t *testing.T) {
	for _, flagName := range []string{"graph", "points", "budget", "direction", "exact", "crop", "levels", "out"} {
		flag := isochroneCmd.Flags().Lookup(flagName)
		require.NotNil(t, flag, "isochrone should have --%s flag", flagName)
	}
	assert.Equal(t, "undirected", isochroneCmd.Flags().Lookup("direction").DefValue)
	assert.Equal(t, "true", isochroneCmd.Flags().Lookup("exact").DefValue)
	assert.Equal(t, "true", isochroneCmd.Flags().Lookup("crop").DefValue)
	assert.Equal(t, "false", isochroneCmd.Flags().Lookup("levels").DefValue)
}
