package collab

import (
	"cmp"
	"slices"
)

// Peer is another member of the session's room.
type Peer struct {
	ConnectionID string
	Cursor       *Cursor
}

// Peers returns the other members of the room, ordered by connection id.
func (s *Session) Peers() []Peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Peer, 0, len(s.peers))
	for id, c := range s.peers {
		p := Peer{ConnectionID: id}
		if c != nil {
			cur := *c
			p.Cursor = &cur
		}
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b Peer) int { return cmp.Compare(a.ConnectionID, b.ConnectionID) })
	return out
}

// MoveCursor shares the local cursor with the room. Repeating the last
// position sends nothing.
func (s *Session) MoveCursor(depth, qubit int) error {
	s.mu.Lock()
	if !s.started || s.closed || s.transport == nil {
		s.mu.Unlock()
		return nil
	}
	cur := Cursor{Depth: depth, Qubit: qubit}
	if s.cursor != nil && *s.cursor == cur {
		s.mu.Unlock()
		return nil
	}
	s.cursor = &cur
	ctx := s.ctx
	s.mu.Unlock()

	return s.transport.Send(ctx, Message{Type: TypeCursorMove, Room: s.room, Position: &cur})
}

// track folds presence traffic into the peer set. Callers hold mu.
func (s *Session) track(msg Message) {
	switch msg.Type {
	case TypeConnectionEstablished:
		if msg.ConnectionID != "" {
			s.connID = msg.ConnectionID
		}
	case TypeRoomJoined:
		if !s.inRoom(msg.Room) {
			return
		}
		clear(s.peers)
		for _, id := range msg.Peers {
			if id != s.connID {
				s.peers[id] = nil
			}
		}
		// a fresh member list means nobody has seen our cursor yet
		s.cursor = nil
	case TypeConnectionUpdate:
		if msg.ConnectionID == "" || msg.ConnectionID == s.connID {
			return
		}
		switch msg.Event {
		case EventUserJoinedRoom:
			if s.inRoom(msg.Room) {
				if _, ok := s.peers[msg.ConnectionID]; !ok {
					s.peers[msg.ConnectionID] = nil
				}
			}
		case EventUserLeftRoom:
			if s.inRoom(msg.Room) {
				delete(s.peers, msg.ConnectionID)
			}
		case EventUserDisconnected:
			delete(s.peers, msg.ConnectionID)
		}
	case TypeCursorUpdate:
		if msg.ConnectionID == "" || msg.ConnectionID == s.connID || msg.Position == nil || !s.inRoom(msg.Room) {
			return
		}
		cur := *msg.Position
		s.peers[msg.ConnectionID] = &cur
	}
}

func (s *Session) inRoom(room string) bool {
	return room == "" || s.room == "" || room == s.room
}
