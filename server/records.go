package server

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/mbocsi/wearlink/proto"
)

var ErrRecordNotFound = errors.New("record not found")

// RecordStore holds the current value of every replicated record.
type RecordStore interface {
	// Put stores data at path and returns the value it replaced, if any.
	Put(ctx context.Context, path string, data proto.DataMap) (prev proto.DataMap, existed bool, err error)
	Get(ctx context.Context, path string) (proto.DataMap, error)
	Delete(ctx context.Context, path string) (bool, error)
	List(ctx context.Context) ([]Record, error)
}

type Record struct {
	Path string        `json:"path"`
	Data proto.DataMap `json:"data"`
}

type MemoryRecordStore struct {
	mu      sync.RWMutex
	records map[string]proto.DataMap
}

func NewMemoryRecordStore() *MemoryRecordStore {
	return &MemoryRecordStore{records: make(map[string]proto.DataMap)}
}

func (s *MemoryRecordStore) Put(_ context.Context, path string, data proto.DataMap) (proto.DataMap, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, existed := s.records[path]
	s.records[path] = cloneDataMap(data)
	return prev, existed, nil
}

func (s *MemoryRecordStore) Get(_ context.Context, path string) (proto.DataMap, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.records[path]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return cloneDataMap(data), nil
}

func (s *MemoryRecordStore) Delete(_ context.Context, path string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.records[path]
	delete(s.records, path)
	return ok, nil
}

func (s *MemoryRecordStore) List(_ context.Context) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, 0, len(s.records))
	for path, data := range s.records {
		out = append(out, Record{Path: path, Data: cloneDataMap(data)})
	}
	sortRecords(out)
	return out, nil
}

func cloneDataMap(m proto.DataMap) proto.DataMap {
	out := make(proto.DataMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func sortRecords(records []Record) {
	sort.Slice(records, func(i, j int) bool { return records[i].Path < records[j].Path })
}
