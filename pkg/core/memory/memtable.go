package memory

import (
	"sync"

	"thrivesight/pkg/common"

	"github.com/google/btree"
)

type Item struct {
	ID   common.ID
	Pred common.Prediction
}

func (i Item) Less(than btree.Item) bool {
	return i.ID < than.(Item).ID
}

// History keeps the most recent predictions ordered by id. Snowflake ids
// grow with time, so the smallest id is always the oldest entry.
type History struct {
	tree     *btree.BTree
	lock     sync.RWMutex
	capacity int
}

func NewHistory(degree, capacity int) *History {
	return &History{
		tree:     btree.New(degree),
		capacity: capacity,
	}
}

// Put 插入记录，超出容量时淘汰最旧的
func (h *History) Put(p common.Prediction) {
	h.lock.Lock()
	defer h.lock.Unlock()

	h.tree.ReplaceOrInsert(Item{ID: p.ID, Pred: p})
	for h.capacity > 0 && h.tree.Len() > h.capacity {
		h.tree.DeleteMin()
	}
}

// Get returns the prediction with id if it is still held in memory.
func (h *History) Get(id common.ID) (common.Prediction, bool) {
	h.lock.RLock()
	defer h.lock.RUnlock()

	res := h.tree.Get(Item{ID: id})
	if res == nil {
		return common.Prediction{}, false
	}
	return res.(Item).Pred, true
}

// Recent 最多返回 limit 条，最新的在前
func (h *History) Recent(limit int) []common.Prediction {
	if limit <= 0 {
		return nil
	}
	h.lock.RLock()
	defer h.lock.RUnlock()

	out := make([]common.Prediction, 0, min(limit, h.tree.Len()))
	h.tree.Descend(func(i btree.Item) bool {
		if len(out) >= limit {
			return false
		}
		out = append(out, i.(Item).Pred)
		return true
	})
	return out
}

func (h *History) Count() int {
	h.lock.RLock()
	defer h.lock.RUnlock()
	return h.tree.Len()
}

func (h *History) Clear() {
	h.lock.Lock()
	defer h.lock.Unlock()
	h.tree.Clear(false)
}
