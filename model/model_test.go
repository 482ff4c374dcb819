package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEventNames(t *testing.T) {
	t.Parallel()

	require.Equal(t, "groups_created", EventCreated("groups"))
	require.Equal(t, "groups_updated", EventUpdated("groups"))
	require.Equal(t, "groups_deleted", EventDeleted("groups"))
}

func TestValidRole(t *testing.T) {
	t.Parallel()

	for _, role := range []string{RoleLeader, RoleAssistant, RoleMember} {
		require.True(t, ValidRole(role), role)
	}
	require.False(t, ValidRole(""))
	require.False(t, ValidRole("pope"))
}

func TestEnvelopeOmitsEmptyFields(t *testing.T) {
	t.Parallel()

	b, err := json.Marshal(Envelope{Type: EventPing})
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"ping"}`, string(b))
}
