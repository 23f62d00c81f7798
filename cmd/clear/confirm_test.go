package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clearClient/internal/model"
	"clearClient/internal/txflow"
)

func TestPromptConfirmer(t *testing.T) {
	intent := txflow.Intent{Kind: model.TxSwap, Summary: "swap 1 USDC"}

	cases := []struct {
		input string
		yes   bool
		want  bool
	}{
		{"y\n", false, true},
		{"YES\n", false, true},
		{"n\n", false, false},
		{"\n", false, false},
		{"", false, false},
		{"", true, true},
	}
	for _, tc := range cases {
		var out bytes.Buffer
		c := newPromptConfirmer(strings.NewReader(tc.input), &out, tc.yes)
		ok, err := c.Confirm(context.Background(), intent)
		require.NoError(t, err)
		assert.Equal(t, tc.want, ok, "input %q", tc.input)
		assert.Contains(t, out.String(), "swap 1 USDC")
	}
}
