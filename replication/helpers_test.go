package replication_test

import (
	"fmt"
	"path"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack"

	"github.com/alpacahq/colstore/column"
	pb "github.com/alpacahq/colstore/proto"
	"github.com/alpacahq/colstore/replication"
)

// memStore keeps columns by name in a temporary directory.
type memStore struct {
	t   *testing.T
	dir string
	mu  sync.Mutex
	cs  map[string]*column.VarColumn
}

func newMemStore(t *testing.T) *memStore {
	t.Helper()
	s := &memStore{t: t, dir: t.TempDir(), cs: map[string]*column.VarColumn{}}
	t.Cleanup(func() {
		for _, c := range s.cs {
			_ = c.Close()
		}
	})
	return s
}

func (s *memStore) column(name string) *column.VarColumn {
	s.t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.cs[name]; ok {
		return c
	}
	c, err := column.Open(s.dir, name, 12, 10)
	require.Nil(s.t, err)
	s.cs[name] = c
	return c
}

func (s *memStore) Names(pattern string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var names []string
	for name := range s.cs {
		ok, err := path.Match(pattern, name)
		if err != nil {
			return nil, err
		}
		if ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (s *memStore) Acquire(name string) (*column.VarColumn, func(), error) {
	s.mu.Lock()
	c, ok := s.cs[name]
	s.mu.Unlock()
	if !ok {
		return nil, nil, fmt.Errorf("no column %q", name)
	}
	return c, func() {}, nil
}

func (s *memStore) AcquireOrCreate(name string) (*column.VarColumn, func(), error) {
	return s.column(name), func() {}, nil
}

func requestFrame(t *testing.T, req replication.SyncRequest) *pb.Frame {
	t.Helper()
	b, err := msgpack.Marshal(&req)
	require.Nil(t, err)
	return &pb.Frame{Kind: pb.FrameRequest, Payload: b}
}

func responseFrame(t *testing.T, resp replication.SyncResponse) *pb.Frame {
	t.Helper()
	b, err := msgpack.Marshal(&resp)
	require.Nil(t, err)
	return &pb.Frame{Kind: pb.FrameResponse, Payload: b}
}

func decodeResponse(t *testing.T, f *pb.Frame) replication.SyncResponse {
	t.Helper()
	require.Equal(t, pb.FrameResponse, f.Kind)
	var resp replication.SyncResponse
	require.Nil(t, msgpack.Unmarshal(f.Payload, &resp))
	return resp
}
