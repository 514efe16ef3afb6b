package scraper

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIdentifiers(t *testing.T) {
	ids, err := ParseIdentifiers(strings.NewReader("SUB-100\n# comment\n\n  SUB-200  \r\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"SUB-100", "SUB-200"}, ids)
}

func TestLoadIdentifiers(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "subscription.txt")
	require.NoError(t, os.WriteFile(path, []byte("A-1\nB-2\n"), 0644))
	ids, err := LoadIdentifiers(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"A-1", "B-2"}, ids)

	empty := filepath.Join(dir, "empty.txt")
	require.NoError(t, os.WriteFile(empty, []byte("# nothing\n\n"), 0644))
	_, err = LoadIdentifiers(empty)
	assert.True(t, errors.Is(err, ErrNoIdentifiers))

	_, err = LoadIdentifiers(filepath.Join(dir, "missing.txt"))
	assert.Error(t, err)
}
