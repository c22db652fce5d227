package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocArgCount(t *testing.T) {
	for _, args := range [][]string{{}, {"one", "two"}} {
		err := locCmd.Args(locCmd, args)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "USAGE_ERROR")
	}
	assert.NoError(t, locCmd.Args(locCmd, []string{"dir"}))
}
