package credentials

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"market-gateway/src/helpers"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeToken(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
}

func TestFileSource_GenerationMovesOnlyOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auth.json")
	src := NewFileSource(path)
	ctx := context.Background()

	_, err := src.Load(ctx)
	assert.ErrorIs(t, err, ErrNoCredential)

	writeToken(t, path, `{"access_token":"APP-100:jwt-one"}`)
	cred, err := src.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), cred.Generation)
	assert.Equal(t, "APP-100", cred.ClientID())
	assert.Equal(t, "jwt-one", cred.BearerToken())

	// Rewriting the same token, even with different whitespace, keeps the generation.
	writeToken(t, path, "{\n  \"access_token\": \" APP-100:jwt-one \"\n}")
	cred, err = src.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), cred.Generation)

	writeToken(t, path, `{"access_token":"APP-100:jwt-two"}`)
	cred, err = src.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), cred.Generation)
}

func TestFileSource_InvalidContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auth.json")
	src := NewFileSource(path)

	writeToken(t, path, `{"access_token":""}`)
	_, err := src.Load(context.Background())
	assert.ErrorIs(t, err, ErrNoCredential)

	writeToken(t, path, `not json`)
	_, err = src.Load(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoCredential)
}

func TestRedisSource_UnreachableIsTransient(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	src := NewRedisSource(client, "market-gateway:credential")
	defer src.Close()

	_, err := src.Load(context.Background())
	require.Error(t, err)
	var transient *helpers.TransientIOError
	assert.ErrorAs(t, err, &transient)
}
