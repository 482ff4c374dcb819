package memory

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/parishdesk/parishdesk/model"
)

var (
	ErrGroupNotFound   = errors.New("group is not found")
	ErrMemberNotFound  = errors.New("member is not found")
	ErrDuplicateMember = errors.New("member already in group")
)

// MemStore is an in-memory group store. All returned groups are deep copies,
// callers never observe concurrent mutation.
type MemStore struct {
	mx *sync.Mutex
	db map[string]*model.Group
}

func NewMemStore() *MemStore {
	return &MemStore{
		mx: &sync.Mutex{},
		db: make(map[string]*model.Group),
	}
}

func (ms *MemStore) CreateGroup(g model.Group) (*model.Group, error) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	g.ID = uuid.NewString()
	if g.Members == nil {
		g.Members = make(map[string]model.Member)
	}
	ms.db[g.ID] = &g
	return copyGroup(&g), nil
}

func (ms *MemStore) GetGroup(groupID string) (*model.Group, error) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	g, ok := ms.db[groupID]
	if !ok {
		return nil, ErrGroupNotFound
	}
	return copyGroup(g), nil
}

func (ms *MemStore) ListGroups() []*model.Group {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	groups := make([]*model.Group, 0, len(ms.db))
	for _, g := range ms.db {
		groups = append(groups, copyGroup(g))
	}
	return groups
}

// UpdateGroup replaces the mutable attributes of a group. Membership is not
// touched here, it has its own operations.
func (ms *MemStore) UpdateGroup(groupID string, upd model.Group) (*model.Group, error) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	g, ok := ms.db[groupID]
	if !ok {
		return nil, ErrGroupNotFound
	}
	g.Name = upd.Name
	g.Ministry = upd.Ministry
	g.MeetingDay = upd.MeetingDay
	return copyGroup(g), nil
}

func (ms *MemStore) DeleteGroup(groupID string) error {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	if _, ok := ms.db[groupID]; !ok {
		return ErrGroupNotFound
	}
	delete(ms.db, groupID)
	return nil
}

func (ms *MemStore) AddMember(groupID string, m model.Member) (*model.Member, error) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	g, ok := ms.db[groupID]
	if !ok {
		return nil, ErrGroupNotFound
	}
	for _, existing := range g.Members {
		if existing.Name == m.Name {
			return nil, ErrDuplicateMember
		}
	}
	m.ID = uuid.NewString()
	g.Members[m.ID] = m
	return &m, nil
}

func (ms *MemStore) RemoveMember(groupID, memberID string) error {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	g, ok := ms.db[groupID]
	if !ok {
		return ErrGroupNotFound
	}
	if _, ok = g.Members[memberID]; !ok {
		return ErrMemberNotFound
	}
	delete(g.Members, memberID)
	return nil
}

func (ms *MemStore) UpdateMemberRole(groupID, memberID, role string) (*model.Member, error) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	g, ok := ms.db[groupID]
	if !ok {
		return nil, ErrGroupNotFound
	}
	m, ok := g.Members[memberID]
	if !ok {
		return nil, ErrMemberNotFound
	}
	m.Role = role
	g.Members[memberID] = m
	return &m, nil
}

func copyGroup(g *model.Group) *model.Group {
	cp := *g
	cp.Members = make(map[string]model.Member, len(g.Members))
	for id, m := range g.Members {
		cp.Members[id] = m
	}
	return &cp
}
