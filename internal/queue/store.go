package queue

import (
	"container/list"
	"iter"

	"office-hours-queue/internal/status"
	"office-hours-queue/models"
)

// Store keeps entries in arrival order keyed by requester id. It is not safe
// for concurrent use; Engine owns the only instance and serialises access.
type Store struct {
	order *list.List
	index map[string]*list.Element
}

func NewStore() *Store {
	return &Store{
		order: list.New(),
		index: make(map[string]*list.Element),
	}
}

func (s *Store) Insert(entry *models.Entry) error {
	if _, ok := s.index[entry.RequesterID]; ok {
		return status.ErrDuplicateEntry
	}
	s.index[entry.RequesterID] = s.order.PushBack(entry)
	return nil
}

func (s *Store) Get(requesterID string) (*models.Entry, error) {
	el, ok := s.index[requesterID]
	if !ok {
		return nil, status.ErrNotQueued
	}
	return el.Value.(*models.Entry), nil
}

func (s *Store) Remove(requesterID string) (*models.Entry, error) {
	el, ok := s.index[requesterID]
	if !ok {
		return nil, status.ErrNotQueued
	}
	delete(s.index, requesterID)
	return s.order.Remove(el).(*models.Entry), nil
}

// PositionOf returns the zero-based arrival rank of requesterID, or -1.
// It walks the list on every call. Populations are a few hundred at most and a
// cached index would have to be repaired on every removal.
func (s *Store) PositionOf(requesterID string) int {
	if _, ok := s.index[requesterID]; !ok {
		return -1
	}
	i := 0
	for el := s.order.Front(); el != nil; el = el.Next() {
		if el.Value.(*models.Entry).RequesterID == requesterID {
			return i
		}
		i++
	}
	return -1
}

// All yields (position, entry) pairs in arrival order. The membership is
// captured when All is called, so the sequence can be ranged over repeatedly
// and is unaffected by later inserts or removals.
func (s *Store) All() iter.Seq2[int, *models.Entry] {
	entries := make([]*models.Entry, 0, s.order.Len())
	for el := s.order.Front(); el != nil; el = el.Next() {
		entries = append(entries, el.Value.(*models.Entry))
	}
	return func(yield func(int, *models.Entry) bool) {
		for i, e := range entries {
			if !yield(i, e) {
				return
			}
		}
	}
}

func (s *Store) Len() int {
	return s.order.Len()
}
