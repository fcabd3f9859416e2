package itf

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSanitizeDBName(t *testing.T) {
	require.Equal(t, "testimport_rooms_a_1", sanitizeDBName("TestImport/rooms (A-1)"))
	require.Equal(t, "test_db", sanitizeDBName("///"))

	long := sanitizeDBName("TestAcademic/" + strings.Repeat("very_long_subtest_name_", 5))
	require.Len(t, long, maxDBNameLength)
	require.NotEqual(t, long, sanitizeDBName("TestAcademic/"+strings.Repeat("very_long_subtest_name_", 6)))
}

func TestReadGooseUpSQL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "00001_init.sql")
	require.NoError(t, os.WriteFile(path, []byte("-- +goose Up\nCREATE TABLE a (id int);\n-- +goose Down\nDROP TABLE a;\n"), 0o644))

	up := ReadGooseUpSQL(t, path)
	require.Contains(t, up, "CREATE TABLE a")
	require.NotContains(t, up, "DROP TABLE")
}
