package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalyzeStoreFlagIsOptional(t *testing.T) {
	flag := analyzeCmd().Flags().Lookup("store")
	require.NotNil(t, flag)

	assert.Equal(t, "false", flag.DefValue)
	assert.Contains(t, flag.Usage, "optional")
	assert.Contains(t, flag.Usage, "output files are written either way")
}
