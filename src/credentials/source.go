package credentials

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"market-gateway/src/helpers"
	"market-gateway/src/models"

	"github.com/redis/go-redis/v9"
)

// ErrNoCredential means the source has nothing published yet.
var ErrNoCredential = errors.New("no credential published")

// -----------------------------------------------------------------------------
// generationTracker turns raw credential blobs into credentials with a
// generation that moves only when the token content changes.
// -----------------------------------------------------------------------------

type generationTracker struct {
	mu         sync.Mutex
	lastDigest [sha256.Size]byte
	generation uint64
}

func (g *generationTracker) observe(blob []byte) (models.MCredential, error) {
	var cred models.MCredential
	if err := json.Unmarshal(blob, &cred); err != nil {
		return models.MCredential{}, fmt.Errorf("failed to decode credential: %w", err)
	}
	cred.AccessToken = strings.TrimSpace(cred.AccessToken)
	if !cred.Valid() {
		return models.MCredential{}, ErrNoCredential
	}

	digest := sha256.Sum256([]byte(cred.AccessToken))

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.generation == 0 || digest != g.lastDigest {
		g.lastDigest = digest
		g.generation++
	}
	cred.Generation = g.generation
	return cred, nil
}

// -----------------------------------------------------------------------------
// FileSource reads {"access_token": "..."} from a JSON file.
// -----------------------------------------------------------------------------

type FileSource struct {
	Path    string
	tracker generationTracker
}

func NewFileSource(path string) *FileSource {
	return &FileSource{Path: path}
}

func (f *FileSource) Load(ctx context.Context) (models.MCredential, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return models.MCredential{}, ErrNoCredential
		}
		return models.MCredential{}, helpers.NewTransientIO(fmt.Sprintf("read credential file '%s'", f.Path), err)
	}
	return f.tracker.observe(data)
}

// -----------------------------------------------------------------------------
// RedisSource reads the same JSON blob from a Redis key, so a separate login
// service can publish tokens to several gateways.
// -----------------------------------------------------------------------------

type RedisSource struct {
	Key     string
	client  redis.UniversalClient
	tracker generationTracker
}

func NewRedisSource(client redis.UniversalClient, key string) *RedisSource {
	return &RedisSource{Key: key, client: client}
}

func (r *RedisSource) Load(ctx context.Context) (models.MCredential, error) {
	data, err := r.client.Get(ctx, r.Key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return models.MCredential{}, ErrNoCredential
		}
		return models.MCredential{}, helpers.NewTransientIO(fmt.Sprintf("read credential key '%s'", r.Key), err)
	}
	return r.tracker.observe(data)
}

// -----------------------------------------------------------------------------

// Close releases the Redis connection pool.
func (r *RedisSource) Close() error {
	return r.client.Close()
}
