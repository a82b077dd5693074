package deploy

import (
	"time"

	"github.com/ashvetsov/flowpilot/internal/domain"
	gocache "github.com/patrickmn/go-cache"
)

// checkpointStore keeps in-flight deployment checkpoints keyed by checkpoint
// ID. Entries are deleted explicitly on every terminal transition; the TTL
// only exists so a checkpoint abandoned by a crashed or cancelled attempt
// cannot pin memory forever.
type checkpointStore struct {
	cache *gocache.Cache
}

func newCheckpointStore(ttl time.Duration) *checkpointStore {
	cleanup := ttl / 2
	if cleanup < time.Minute {
		cleanup = time.Minute
	}
	return &checkpointStore{cache: gocache.New(ttl, cleanup)}
}

func (s *checkpointStore) Put(cp *domain.DeploymentCheckpoint) {
	s.cache.Set(cp.ID, cp, gocache.DefaultExpiration)
}

func (s *checkpointStore) Get(id string) (*domain.DeploymentCheckpoint, bool) {
	v, ok := s.cache.Get(id)
	if !ok {
		return nil, false
	}
	return v.(*domain.DeploymentCheckpoint), true
}

func (s *checkpointStore) Delete(id string) {
	s.cache.Delete(id)
}

func (s *checkpointStore) Len() int {
	return s.cache.ItemCount()
}
