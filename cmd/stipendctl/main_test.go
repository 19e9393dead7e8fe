package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	_ "github.com/ctc-stipend/stipend/internal/testing/guard"
)

func TestParseIDs(t *testing.T) {
	ids, err := parseIDs(" 3, 7,,12 ")
	require.NoError(t, err)
	require.Equal(t, []int64{3, 7, 12}, ids)

	_, err = parseIDs("3,x")
	require.Error(t, err)
	_, err = parseIDs("-1")
	require.Error(t, err)
}

func TestMainSkipsInTestMode(t *testing.T) {
	main()
}
