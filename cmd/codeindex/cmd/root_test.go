package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRootCmd_Subcommands(t *testing.T) {
	// Given: the root command
	root := NewRootCmd()

	// When: listing its subcommands
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}

	// Then: every entry point is registered
	for _, want := range []string{"init", "index", "watch", "query", "health", "serve", "version"} {
		assert.Contains(t, names, want)
	}
}

func TestRootCmd_PersistentFlags(t *testing.T) {
	// Given: the root command
	root := NewRootCmd()

	// Then: --debug and --no-color are available to every subcommand
	assert.NotNil(t, root.PersistentFlags().Lookup("debug"))
	assert.NotNil(t, root.PersistentFlags().Lookup("no-color"))
}

func TestQueryCmd_Flags(t *testing.T) {
	// Given: the query command
	cmd := newQueryCmd()

	// Then: top-k defaults to 10 and --text selects keyword search
	topK := cmd.Flags().Lookup("top-k")
	if assert.NotNil(t, topK) {
		assert.Equal(t, "10", topK.DefValue)
	}
	assert.NotNil(t, cmd.Flags().Lookup("text"))
}

func TestPathArg(t *testing.T) {
	assert.Equal(t, ".", pathArg(nil))
	assert.Equal(t, "/src", pathArg([]string{"/src"}))
}
