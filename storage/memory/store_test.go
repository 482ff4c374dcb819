package memory

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/parishdesk/parishdesk/model"
)

func TestGroupCRUD(t *testing.T) {
	t.Parallel()

	ms := NewMemStore()

	created, err := ms.CreateGroup(model.Group{Name: "Choir", Ministry: "music"})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	require.NotNil(t, created.Members)

	got, err := ms.GetGroup(created.ID)
	require.NoError(t, err)
	require.Equal(t, created, got)

	updated, err := ms.UpdateGroup(created.ID, model.Group{Name: "Youth Choir", MeetingDay: "wednesday"})
	require.NoError(t, err)
	require.Equal(t, "Youth Choir", updated.Name)
	require.Equal(t, "wednesday", updated.MeetingDay)
	require.Equal(t, created.ID, updated.ID)

	require.Len(t, ms.ListGroups(), 1)

	require.NoError(t, ms.DeleteGroup(created.ID))
	_, err = ms.GetGroup(created.ID)
	require.ErrorIs(t, err, ErrGroupNotFound)
	require.ErrorIs(t, ms.DeleteGroup(created.ID), ErrGroupNotFound)
}

func TestGroupNotFound(t *testing.T) {
	t.Parallel()

	ms := NewMemStore()

	_, err := ms.GetGroup("missing")
	require.ErrorIs(t, err, ErrGroupNotFound)
	_, err = ms.UpdateGroup("missing", model.Group{})
	require.ErrorIs(t, err, ErrGroupNotFound)
	_, err = ms.AddMember("missing", model.Member{Name: "Ann"})
	require.ErrorIs(t, err, ErrGroupNotFound)
	require.ErrorIs(t, ms.RemoveMember("missing", "m"), ErrGroupNotFound)
	_, err = ms.UpdateMemberRole("missing", "m", model.RoleLeader)
	require.ErrorIs(t, err, ErrGroupNotFound)
}

func TestMembership(t *testing.T) {
	t.Parallel()

	ms := NewMemStore()
	g, err := ms.CreateGroup(model.Group{Name: "Ushers"})
	require.NoError(t, err)

	ann, err := ms.AddMember(g.ID, model.Member{Name: "Ann", Role: model.RoleLeader})
	require.NoError(t, err)
	require.NotEmpty(t, ann.ID)

	_, err = ms.AddMember(g.ID, model.Member{Name: "Ann", Role: model.RoleMember})
	require.ErrorIs(t, err, ErrDuplicateMember)

	bob, err := ms.AddMember(g.ID, model.Member{Name: "Bob", Role: model.RoleMember})
	require.NoError(t, err)

	promoted, err := ms.UpdateMemberRole(g.ID, bob.ID, model.RoleAssistant)
	require.NoError(t, err)
	require.Equal(t, model.RoleAssistant, promoted.Role)

	_, err = ms.UpdateMemberRole(g.ID, "missing", model.RoleLeader)
	require.ErrorIs(t, err, ErrMemberNotFound)

	require.NoError(t, ms.RemoveMember(g.ID, ann.ID))
	require.ErrorIs(t, ms.RemoveMember(g.ID, ann.ID), ErrMemberNotFound)

	got, err := ms.GetGroup(g.ID)
	require.NoError(t, err)
	require.Len(t, got.Members, 1)
	require.Equal(t, model.RoleAssistant, got.Members[bob.ID].Role)
}

func TestReturnedGroupsAreCopies(t *testing.T) {
	t.Parallel()

	ms := NewMemStore()
	g, err := ms.CreateGroup(model.Group{Name: "Choir"})
	require.NoError(t, err)

	_, err = ms.AddMember(g.ID, model.Member{Name: "Ann"})
	require.NoError(t, err)

	got, err := ms.GetGroup(g.ID)
	require.NoError(t, err)
	got.Name = "mutated"
	for id := range got.Members {
		delete(got.Members, id)
	}

	fresh, err := ms.GetGroup(g.ID)
	require.NoError(t, err)
	require.Equal(t, "Choir", fresh.Name)
	require.Len(t, fresh.Members, 1)
}
