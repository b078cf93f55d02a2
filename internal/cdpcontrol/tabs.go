package cdpcontrol

import (
	"sync"

	"github.com/chromedp/cdproto/target"

	"github.com/dgnsrekt/tablease/internal/types"
)

// TabRegistry maps CDP target IDs to stable integer tab ids. Ids start at 1
// and are never reused while the registry lives.
type TabRegistry struct {
	mu     sync.RWMutex
	next   int
	ids    map[target.ID]int
	byID   map[int]target.ID
	tabs   map[target.ID]types.TabInfo
	order  []target.ID
	active target.ID
}

func NewTabRegistry() *TabRegistry {
	return &TabRegistry{
		next: 1,
		ids:  make(map[target.ID]int),
		byID: make(map[int]target.ID),
		tabs: make(map[target.ID]types.TabInfo),
	}
}

// Sync replaces the registry content with the page targets in infos, in
// the order given. Known targets keep their id.
func (r *TabRegistry) Sync(infos []*target.Info) []types.TabInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[target.ID]bool, len(infos))
	r.order = r.order[:0]
	for _, info := range infos {
		if info == nil || info.Type != "page" || seen[info.TargetID] {
			continue
		}
		seen[info.TargetID] = true
		id := r.registerLocked(info.TargetID)
		r.tabs[info.TargetID] = types.TabInfo{
			TabID:    id,
			TargetID: string(info.TargetID),
			URL:      info.URL,
			Title:    info.Title,
		}
		r.order = append(r.order, info.TargetID)
	}
	for tid := range r.ids {
		if !seen[tid] {
			r.removeLocked(tid)
		}
	}
	return r.listLocked()
}

// Register returns the id of targetID, assigning one if needed.
func (r *TabRegistry) Register(targetID target.ID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registerLocked(targetID)
}

func (r *TabRegistry) registerLocked(targetID target.ID) int {
	if id, ok := r.ids[targetID]; ok {
		return id
	}
	id := r.next
	r.next++
	r.ids[targetID] = id
	r.byID[id] = targetID
	return id
}

// Get returns the last synced info for a tab id.
func (r *TabRegistry) Get(tabID int) (types.TabInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tid, ok := r.byID[tabID]
	if !ok {
		return types.TabInfo{}, false
	}
	info, ok := r.tabs[tid]
	if !ok {
		info = types.TabInfo{TabID: tabID, TargetID: string(tid)}
	}
	info.Active = tid == r.active
	return info, true
}

// ID returns the tab id of a target.
func (r *TabRegistry) ID(targetID target.ID) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.ids[targetID]
	return id, ok
}

// Target returns the target of a tab id.
func (r *TabRegistry) Target(tabID int) (target.ID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tid, ok := r.byID[tabID]
	return tid, ok
}

// SetActive records which target is in the foreground.
func (r *TabRegistry) SetActive(targetID target.ID) {
	r.mu.Lock()
	r.active = targetID
	r.mu.Unlock()
}

// List returns the synced tabs in browser order.
func (r *TabRegistry) List() []types.TabInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.listLocked()
}

func (r *TabRegistry) listLocked() []types.TabInfo {
	out := make([]types.TabInfo, 0, len(r.order))
	for _, tid := range r.order {
		info := r.tabs[tid]
		info.Active = tid == r.active
		out = append(out, info)
	}
	return out
}

func (r *TabRegistry) Remove(targetID target.ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(targetID)
}

func (r *TabRegistry) removeLocked(targetID target.ID) {
	id, ok := r.ids[targetID]
	if !ok {
		return
	}
	delete(r.ids, targetID)
	delete(r.byID, id)
	delete(r.tabs, targetID)
	if r.active == targetID {
		r.active = ""
	}
	for i, tid := range r.order {
		if tid == targetID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

func (r *TabRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ids)
}
