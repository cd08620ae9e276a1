package commands

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandTree(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{
		"evolve", "deploy", "stop", "deployments", "monitor", "rebalance", "promote",
		"regime", "specs", "market", "scheduler", "api", "migrate", "policy",
	} {
		assert.True(t, names[want], "missing command %s", want)
	}

	cmd, _, err := rootCmd.Find([]string{"scheduler", "run"})
	require.NoError(t, err)
	assert.Equal(t, "run", cmd.Name())
	assert.Error(t, cmd.Args(cmd, nil))

	cmd, _, err = rootCmd.Find([]string{"migrate", "down"})
	require.NoError(t, err)
	assert.Equal(t, "1", cmd.Flags().Lookup("steps").DefValue)
}

func TestShort(t *testing.T) {
	assert.Equal(t, "abcdefgh", short("abcdefgh-1234"))
	assert.Equal(t, "abc", short("abc"))
	assert.Equal(t, "12.50%", pct(0.125))
}
