// Package rooms keeps room membership: which connections belong to which
// room, in join order.
package rooms

import (
	"sort"
	"sync"
	"time"

	"github.com/example/collab-realtime/domain/collab"
)

// DefaultMaxMembers is the room capacity when none is configured.
const DefaultMaxMembers = 50

type room struct {
	key          collab.RoomKey
	members      []collab.Participant
	lastActivity time.Time
}

func (r *room) indexOf(id collab.ConnectionID) int {
	for i, p := range r.members {
		if p.ConnectionID == id {
			return i
		}
	}
	return -1
}

func (r *room) others(id collab.ConnectionID) []collab.Participant {
	out := make([]collab.Participant, 0, len(r.members))
	for _, p := range r.members {
		if p.ConnectionID != id {
			out = append(out, p)
		}
	}
	return out
}

// Directory maps room keys to ordered member lists. A room exists only while
// it has members; the last leave garbage collects it.
type Directory struct {
	mu          sync.RWMutex
	rooms       map[collab.RoomKey]*room
	memberships map[collab.ConnectionID]map[collab.RoomKey]struct{}
	maxMembers  int
	now         func() time.Time
}

// NewDirectory creates an empty directory. A non-positive maxMembers selects
// DefaultMaxMembers.
func NewDirectory(maxMembers int) *Directory {
	if maxMembers <= 0 {
		maxMembers = DefaultMaxMembers
	}
	return &Directory{
		rooms:       make(map[collab.RoomKey]*room),
		memberships: make(map[collab.ConnectionID]map[collab.RoomKey]struct{}),
		maxMembers:  maxMembers,
		now:         time.Now,
	}
}

// MaxMembers returns the room capacity.
func (d *Directory) MaxMembers() int { return d.maxMembers }

// Join adds p to the room at key, creating the room on first join. It returns
// the other participants in join order. Joining a room one already belongs to
// succeeds without change and reports joined as false. A full room fails with
// collab.ErrRoomFull.
func (d *Directory) Join(key collab.RoomKey, p collab.Participant) (others []collab.Participant, joined bool, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	r, ok := d.rooms[key]
	if ok && r.indexOf(p.ConnectionID) >= 0 {
		return r.others(p.ConnectionID), false, nil
	}
	if ok && len(r.members) >= d.maxMembers {
		return nil, false, collab.ErrRoomFull
	}
	if !ok {
		r = &room{key: key}
		d.rooms[key] = r
	}

	if p.JoinedAt.IsZero() {
		p.JoinedAt = d.now()
	}
	snapshot := r.others(p.ConnectionID)
	r.members = append(r.members, p)
	r.lastActivity = p.JoinedAt

	rooms, ok := d.memberships[p.ConnectionID]
	if !ok {
		rooms = make(map[collab.RoomKey]struct{})
		d.memberships[p.ConnectionID] = rooms
	}
	rooms[key] = struct{}{}

	return snapshot, true, nil
}

// Leave removes id from the room at key. It returns the departed participant
// and the number of members left; ok is false when id was not a member.
func (d *Directory) Leave(key collab.RoomKey, id collab.ConnectionID) (left collab.Participant, remaining int, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	r, exists := d.rooms[key]
	if !exists {
		return collab.Participant{}, 0, false
	}
	i := r.indexOf(id)
	if i < 0 {
		return collab.Participant{}, len(r.members), false
	}

	left = r.members[i]
	r.members = append(r.members[:i], r.members[i+1:]...)
	r.lastActivity = d.now()
	if len(r.members) == 0 {
		delete(d.rooms, key)
	}

	if rooms, ok := d.memberships[id]; ok {
		delete(rooms, key)
		if len(rooms) == 0 {
			delete(d.memberships, id)
		}
	}
	return left, len(r.members), true
}

// MembersOf returns the connection ids in the room, in join order.
func (d *Directory) MembersOf(key collab.RoomKey) []collab.ConnectionID {
	d.mu.RLock()
	defer d.mu.RUnlock()

	r, ok := d.rooms[key]
	if !ok {
		return nil
	}
	ids := make([]collab.ConnectionID, len(r.members))
	for i, p := range r.members {
		ids[i] = p.ConnectionID
	}
	return ids
}

// Participants returns the participants in the room, in join order.
func (d *Directory) Participants(key collab.RoomKey) []collab.Participant {
	d.mu.RLock()
	defer d.mu.RUnlock()

	r, ok := d.rooms[key]
	if !ok {
		return nil
	}
	out := make([]collab.Participant, len(r.members))
	copy(out, r.members)
	return out
}

// IsMember reports whether id belongs to the room at key.
func (d *Directory) IsMember(key collab.RoomKey, id collab.ConnectionID) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	r, ok := d.rooms[key]
	return ok && r.indexOf(id) >= 0
}

// RoomsOf returns every room id belongs to.
func (d *Directory) RoomsOf(id collab.ConnectionID) []collab.RoomKey {
	d.mu.RLock()
	defer d.mu.RUnlock()

	keys := make([]collab.RoomKey, 0, len(d.memberships[id]))
	for key := range d.memberships[id] {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

// Size returns the number of members in the room at key.
func (d *Directory) Size(key collab.RoomKey) int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if r, ok := d.rooms[key]; ok {
		return len(r.members)
	}
	return 0
}

// MarkActivity records traffic in the room at key.
func (d *Directory) MarkActivity(key collab.RoomKey, at time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if r, ok := d.rooms[key]; ok && at.After(r.lastActivity) {
		r.lastActivity = at
	}
}

// List returns a summary of every active room, sorted by room id.
func (d *Directory) List() []collab.RoomInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()

	infos := make([]collab.RoomInfo, 0, len(d.rooms))
	for key, r := range d.rooms {
		infos = append(infos, collab.RoomInfo{
			Key:          key,
			RoomID:       key.String(),
			Members:      len(r.members),
			LastActivity: r.lastActivity,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].RoomID < infos[j].RoomID })
	return infos
}

// Stats returns the number of active rooms and the total membership.
func (d *Directory) Stats() (rooms, members int) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, r := range d.rooms {
		members += len(r.members)
	}
	return len(d.rooms), members
}
