// Copyright (C) 2024 BrightBroom, Inc.
// See LICENSE for copying information.

package chat

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTurnExtractsFacts(t *testing.T) {
	state, reply := Turn(State{}, "I have a 3 bedroom 2 bath house and want a deep clean")
	require.Equal(t, 3, state.Inputs.Beds)
	require.Equal(t, 2, state.Inputs.Baths)
	require.True(t, state.Inputs.Deep)
	require.Contains(t, reply.Fields, "beds")
	require.Contains(t, reply.Fields, "baths")
	require.Contains(t, reply.Fields, "service_type")
	require.False(t, state.Complete)
	require.Contains(t, reply.Message, "name")
}

func TestTurnConversationCompletes(t *testing.T) {
	state, reply := Turn(State{}, "hi there")
	require.Contains(t, reply.Message, "bedrooms")

	state, _ = Turn(state, "2 beds")
	state, reply = Turn(state, "1 bathroom")
	require.Contains(t, reply.Message, "name")

	state, _ = Turn(state, "My name is Pat Smith")
	require.Equal(t, "Pat Smith", state.Name)

	state, reply = Turn(state, "call me at 555-010-0199")
	require.True(t, state.Complete)
	require.Contains(t, reply.Message, "Pat")
}

func TestTurnIsPure(t *testing.T) {
	start := State{}
	first, firstReply := Turn(start, "4 bedrooms, 3 baths, biweekly please")
	second, secondReply := Turn(start, "4 bedrooms, 3 baths, biweekly please")
	require.Equal(t, first, second)
	require.Equal(t, firstReply, secondReply)
	require.Equal(t, "biweekly", first.Inputs.Frequency)

	// the original state was not mutated
	require.Zero(t, start.Inputs.Beds)
}

func TestTurnContactExtraction(t *testing.T) {
	state, _ := Turn(State{BedsSet: true, BathsSet: true}, "I'm Ana, reach me at ana@example.com or (555) 010-0123")
	require.Equal(t, "Ana", state.Name)
	require.Equal(t, "ana@example.com", state.Email)
	require.NotEmpty(t, state.Phone)
	require.True(t, state.Complete)
}
