package warp

import (
	"sync"

	"github.com/processwarp/core/internal/addr"
)

// routeEntry is one (nid, root?) the Scheduler has heard about for a
// vpid, grounded on original_source/src/core/scheduler.hpp's routing
// table entries.
type routeEntry struct {
	NID  addr.NID
	Root bool
}

// Scheduler is one node's routing directory: vpid → the set of nodes
// known to host (some part of) that process, plus which one is master.
type Scheduler struct {
	mu      sync.RWMutex
	routes  map[addr.VPID][]routeEntry
	masters map[addr.VPID]addr.NID
}

func NewScheduler() *Scheduler {
	return &Scheduler{
		routes:  make(map[addr.VPID][]routeEntry),
		masters: make(map[addr.VPID]addr.NID),
	}
}

// Learn records that nid hosts (a part of) vpid, optionally as its
// master/root node.
func (s *Scheduler) Learn(vpid addr.VPID, nid addr.NID, isRoot bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.routes[vpid] {
		if e.NID == nid {
			s.routes[vpid][i].Root = s.routes[vpid][i].Root || isRoot
			if isRoot {
				s.masters[vpid] = nid
			}
			return
		}
	}
	s.routes[vpid] = append(s.routes[vpid], routeEntry{NID: nid, Root: isRoot})
	if isRoot {
		s.masters[vpid] = nid
	}
}

// Master returns the node known to be vpid's master (process-control
// block owner), if any.
func (s *Scheduler) Master(vpid addr.VPID) (addr.NID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	nid, ok := s.masters[vpid]
	return nid, ok
}

// Forget drops every route entry for vpid, e.g. after `terminate`.
func (s *Scheduler) Forget(vpid addr.VPID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.routes, vpid)
	delete(s.masters, vpid)
}

// AcceptWarp decides whether this node should accept an inbound
// WARP-REQUEST. Placement policy: this core's only
// enforced rule is honoring the destination the source named; a richer
// "warp home if it references the master page heavily" heuristic is
// left to the routing layer that calls AcceptWarp, since that signal
// (per-page access frequency) isn't tracked by this core.
func (s *Scheduler) AcceptWarp(vpid addr.VPID, dst addr.NID, self addr.NID) bool {
	return dst == self
}
