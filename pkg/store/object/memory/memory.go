// Package memory implements the object store in process memory for tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/wallvault/wallvault/pkg/store/object"
)

type storedObject struct {
	data         []byte
	contentType  string
	lastModified time.Time
}

// Store is an in-memory object.Store.
type Store struct {
	mu      sync.Mutex
	objects map[string]storedObject

	// putErr, when set, is returned by the next Put calls. Test hook for
	// simulating storage failures.
	putErr error
}

var _ object.Store = (*Store)(nil)

// New creates an empty in-memory object store.
func New() *Store {
	return &Store{objects: make(map[string]storedObject)}
}

// FailPuts makes subsequent Put calls return err. Pass nil to heal.
func (s *Store) FailPuts(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putErr = err
}

func (s *Store) Put(_ context.Context, key, contentType string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.putErr != nil {
		return s.putErr
	}

	buf := make([]byte, len(data))
	copy(buf, data)
	s.objects[key] = storedObject{
		data:         buf,
		contentType:  contentType,
		lastModified: time.Now(),
	}
	return nil
}

func (s *Store) Head(_ context.Context, key string) (object.Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	obj, ok := s.objects[key]
	if !ok {
		return object.Info{}, object.ErrObjectNotFound
	}
	return object.Info{
		Key:          key,
		Size:         int64(len(obj.data)),
		LastModified: obj.lastModified,
	}, nil
}

func (s *Store) Get(_ context.Context, key string) ([]byte, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	obj, ok := s.objects[key]
	if !ok {
		return nil, "", object.ErrObjectNotFound
	}
	buf := make([]byte, len(obj.data))
	copy(buf, obj.data)
	return buf, obj.contentType, nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

// List pages through keys in lexical order. The token is the last key of the
// previous page.
func (s *Store) List(_ context.Context, prefix, token string, max int32) (object.ListPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.objects))
	for key := range s.objects {
		if strings.HasPrefix(key, prefix) && key > token {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	if max <= 0 {
		max = 1000
	}

	page := object.ListPage{}
	for i, key := range keys {
		if int32(i) >= max {
			page.NextToken = page.Objects[len(page.Objects)-1].Key
			break
		}
		obj := s.objects[key]
		page.Objects = append(page.Objects, object.Info{
			Key:          key,
			Size:         int64(len(obj.data)),
			LastModified: obj.lastModified,
		})
	}
	return page, nil
}

func (s *Store) Healthcheck(context.Context) error { return nil }

// GetData returns the stored payload. Test helper.
func (s *Store) GetData(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[key]
	if !ok {
		return nil, false
	}
	return obj.data, true
}

// ContentType returns the stored content type. Test helper.
func (s *Store) ContentType(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[key]
	if !ok {
		return "", false
	}
	return obj.contentType, true
}

// SetLastModified backdates an object. Test helper for orphan-blob aging.
func (s *Store) SetLastModified(key string, t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if obj, ok := s.objects[key]; ok {
		obj.lastModified = t
		s.objects[key] = obj
	}
}

// Len returns the number of stored objects. Test helper.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}
