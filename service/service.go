package service

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rs/zerolog"

	"github.com/parishdesk/parishdesk/model"
)

// ResourceGroups is the resource type the group service publishes on.
const ResourceGroups = "groups"

var (
	ErrCreate      = errors.New("unable to create group")
	ErrGet         = errors.New("unable to get group")
	ErrUpdate      = errors.New("unable to update group")
	ErrDelete      = errors.New("unable to delete group")
	ErrAddMember   = errors.New("unable to add member")
	ErrInvalidRole = errors.New("invalid member role")
)

type (
	GroupStore interface {
		CreateGroup(g model.Group) (*model.Group, error)
		GetGroup(groupID string) (*model.Group, error)
		ListGroups() []*model.Group
		UpdateGroup(groupID string, upd model.Group) (*model.Group, error)
		DeleteGroup(groupID string) error
		AddMember(groupID string, m model.Member) (*model.Member, error)
		RemoveMember(groupID, memberID string) error
		UpdateMemberRole(groupID, memberID, role string) (*model.Member, error)
	}

	Broadcaster interface {
		Broadcast(ctx context.Context, resource string, env model.Envelope) error
	}

	Service struct {
		store  GroupStore
		hub    Broadcaster
		logger zerolog.Logger
	}

	Config struct {
		GroupStore  GroupStore
		Broadcaster Broadcaster
		Logger      *zerolog.Logger
	}
)

func NewService(cfg Config) *Service {
	return &Service{
		store:  cfg.GroupStore,
		hub:    cfg.Broadcaster,
		logger: cfg.Logger.With().Str("component", "group-service").Logger(),
	}
}

func (svc *Service) CreateGroup(ctx context.Context, g model.Group) (*model.Group, error) {
	created, err := svc.store.CreateGroup(g)
	if err != nil {
		return nil, errors.Join(ErrCreate, err)
	}
	svc.logger.Debug().Str("groupID", created.ID).Msg("group created")
	svc.broadcastEntity(ctx, model.EventCreated(ResourceGroups), created)
	return created, nil
}

func (svc *Service) GetGroup(_ context.Context, groupID string) (*model.Group, error) {
	g, err := svc.store.GetGroup(groupID)
	if err != nil {
		return nil, errors.Join(ErrGet, err)
	}
	return g, nil
}

func (svc *Service) ListGroups(_ context.Context) []*model.Group {
	return svc.store.ListGroups()
}

func (svc *Service) UpdateGroup(ctx context.Context, groupID string, upd model.Group) (*model.Group, error) {
	updated, err := svc.store.UpdateGroup(groupID, upd)
	if err != nil {
		return nil, errors.Join(ErrUpdate, err)
	}
	svc.logger.Debug().Str("groupID", groupID).Msg("group updated")
	svc.broadcastEntity(ctx, model.EventUpdated(ResourceGroups), updated)
	return updated, nil
}

func (svc *Service) DeleteGroup(ctx context.Context, groupID string) error {
	if err := svc.store.DeleteGroup(groupID); err != nil {
		return errors.Join(ErrDelete, err)
	}
	svc.logger.Debug().Str("groupID", groupID).Msg("group deleted")
	svc.broadcast(ctx, model.Envelope{
		Type: model.EventDeleted(ResourceGroups),
		ID:   groupID,
	})
	return nil
}

func (svc *Service) AddMember(ctx context.Context, groupID string, m model.Member) (*model.Member, error) {
	if m.Role == "" {
		m.Role = model.RoleMember
	}
	if !model.ValidRole(m.Role) {
		return nil, ErrInvalidRole
	}
	added, err := svc.store.AddMember(groupID, m)
	if err != nil {
		return nil, errors.Join(ErrAddMember, err)
	}
	svc.logger.Debug().
		Str("groupID", groupID).
		Str("memberID", added.ID).
		Msg("member added")
	svc.broadcast(ctx, model.Envelope{
		Type:    model.EventMemberAdded,
		GroupID: groupID,
		Member:  added,
	})
	return added, nil
}

func (svc *Service) RemoveMember(ctx context.Context, groupID, memberID string) error {
	if err := svc.store.RemoveMember(groupID, memberID); err != nil {
		return err
	}
	svc.logger.Debug().
		Str("groupID", groupID).
		Str("memberID", memberID).
		Msg("member removed")
	svc.broadcast(ctx, model.Envelope{
		Type:     model.EventMemberRemoved,
		GroupID:  groupID,
		MemberID: memberID,
	})
	return nil
}

func (svc *Service) UpdateMemberRole(ctx context.Context, groupID, memberID, role string) (*model.Member, error) {
	if !model.ValidRole(role) {
		return nil, ErrInvalidRole
	}
	updated, err := svc.store.UpdateMemberRole(groupID, memberID, role)
	if err != nil {
		return nil, err
	}
	svc.logger.Debug().
		Str("groupID", groupID).
		Str("memberID", memberID).
		Str("role", role).
		Msg("member role updated")
	svc.broadcast(ctx, model.Envelope{
		Type:     model.EventMemberRoleUpdated,
		GroupID:  groupID,
		MemberID: memberID,
		Role:     role,
	})
	return updated, nil
}

func (svc *Service) broadcastEntity(ctx context.Context, eventType string, g *model.Group) {
	data, err := json.Marshal(g)
	if err != nil {
		svc.logger.Error().Err(err).Msg("failed to marshal group for broadcast")
		return
	}
	svc.broadcast(ctx, model.Envelope{Type: eventType, Data: data})
}

func (svc *Service) broadcast(ctx context.Context, env model.Envelope) {
	if err := svc.hub.Broadcast(ctx, ResourceGroups, env); err != nil {
		svc.logger.Error().Err(err).Str("type", env.Type).Msg("broadcast failed")
	}
}
