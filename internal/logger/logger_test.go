package logger

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWritesDailyFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	log, closer, err := New(Options{Dir: dir, Level: "debug"})
	require.NoError(t, err)

	assert.Equal(t, logrus.DebugLevel, log.GetLevel())
	log.WithField("source", "basemap").Info("archive written")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(filepath.Join(dir, time.Now().Format("2006-01-02.log")))
	require.NoError(t, err)
	assert.Contains(t, string(data), "archive written")
	assert.Contains(t, string(data), "basemap")
	assert.Contains(t, string(data), "INFO")
}

func TestNewInvalidLevel(t *testing.T) {
	log, closer, err := New(Options{Level: "loud"})
	require.NoError(t, err)
	defer closer.Close()
	assert.Equal(t, logrus.InfoLevel, log.GetLevel())
}
