package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"booking-assistant/internal/domain"
)

func TestMemory_AppendLoadReset(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	s, err := m.LoadSession(ctx, "s1", 10)
	require.NoError(t, err)
	require.Empty(t, s.Turns)

	turns := []domain.Turn{
		{Role: domain.RoleUser, Text: "one"},
		{Role: domain.RoleAssistant, Text: "two"},
		{Role: domain.RoleUser, Text: "three"},
	}
	state := domain.SessionState{VerifiedPhones: []string{"555"}, Turns: 2}
	require.NoError(t, m.AppendTurns(ctx, "s1", turns, state))

	s, err = m.LoadSession(ctx, "s1", 2)
	require.NoError(t, err)
	require.Len(t, s.Turns, 2)
	require.Equal(t, "two", s.Turns[0].Text)
	require.True(t, s.State.IsVerified("555"))

	// callers cannot mutate stored state through the returned copy
	s.State.VerifiedPhones[0] = "999"
	again, err := m.LoadSession(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, again.Turns, 3)
	require.True(t, again.State.IsVerified("555"))

	require.NoError(t, m.ResetSession(ctx, "s1"))
	s, err = m.LoadSession(ctx, "s1", 10)
	require.NoError(t, err)
	require.Empty(t, s.Turns)
	require.Empty(t, s.State.VerifiedPhones)
}
