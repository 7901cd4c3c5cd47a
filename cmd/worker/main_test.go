package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/storeledger/storeledger/internal/app"
	_ "github.com/storeledger/storeledger/testing"
)

func TestMainReturnsInTestMode(t *testing.T) {
	app.RefreshTestMode()
	require.True(t, app.InTestMode())
	require.NotPanics(t, main)
}
