package start_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alpacahq/colstore/cmd/start"
	"github.com/alpacahq/colstore/utils"
)

func TestRun_stopsWhenCanceled(t *testing.T) {
	t.Parallel()

	// --- given ---
	rootDir := filepath.Join(t.TempDir(), "data")
	cfg, err := utils.ParseConfig([]byte(fmt.Sprintf(`
root_directory: %s
replication:
  enabled: true
  listen_port: 0
`, rootDir)))
	require.Nil(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	// --- when ---
	err = start.Run(ctx, cfg)

	// --- then ---
	assert.Nil(t, err)
	fi, err := os.Stat(rootDir)
	require.Nil(t, err)
	assert.True(t, fi.IsDir())
}

func TestRun_badEncoding(t *testing.T) {
	t.Parallel()

	cfg, err := utils.ParseConfig([]byte(fmt.Sprintf("root_directory: %s\nencoding: latin-9\n", t.TempDir())))
	require.Nil(t, err)
	assert.NotNil(t, start.Run(context.Background(), cfg))
}
