package storage

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/absmach/fedrepair/pkg/errors"
)

type inMemoryStorage struct {
	sync.Mutex

	data map[string][]byte
}

func NewInMemoryStorage() Storage {
	return &inMemoryStorage{
		data: make(map[string][]byte),
	}
}

func (s *inMemoryStorage) Create(_ context.Context, key string, value []byte) error {
	if key == "" {
		return errors.ErrEmptyKey
	}

	s.Lock()
	defer s.Unlock()

	if _, ok := s.data[key]; ok {
		return errors.ErrEntityExists
	}

	s.data[key] = slices.Clone(value)

	return nil
}

func (s *inMemoryStorage) Put(_ context.Context, key string, value []byte) error {
	if key == "" {
		return errors.ErrEmptyKey
	}

	s.Lock()
	defer s.Unlock()

	s.data[key] = slices.Clone(value)

	return nil
}

func (s *inMemoryStorage) Get(_ context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, errors.ErrEmptyKey
	}

	s.Lock()
	defer s.Unlock()

	if val, ok := s.data[key]; ok {
		return slices.Clone(val), nil
	}

	return nil, errors.ErrNotFound
}

func (s *inMemoryStorage) Update(_ context.Context, key string, value []byte) error {
	if key == "" {
		return errors.ErrEmptyKey
	}

	s.Lock()
	defer s.Unlock()

	if _, ok := s.data[key]; !ok {
		return errors.ErrNotFound
	}

	s.data[key] = slices.Clone(value)

	return nil
}

func (s *inMemoryStorage) List(_ context.Context, prefix string, offset, limit uint64) (result [][]byte, total uint64, err error) {
	s.Lock()
	defer s.Unlock()

	keys := make([]string, 0)
	for k := range s.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)

	total = uint64(len(keys))
	if offset >= total {
		return nil, total, nil
	}

	end := min(offset+limit, total)

	result = make([][]byte, end-offset)
	for i := offset; i < end; i++ {
		result[i-offset] = slices.Clone(s.data[keys[i]])
	}

	return result, total, nil
}

func (s *inMemoryStorage) Delete(_ context.Context, key string) error {
	if key == "" {
		return errors.ErrEmptyKey
	}

	s.Lock()
	defer s.Unlock()

	delete(s.data, key)

	return nil
}

func (s *inMemoryStorage) Close() error {
	return nil
}
