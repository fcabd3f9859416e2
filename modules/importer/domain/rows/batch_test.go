package rows

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeBatch(t *testing.T) {
	b, err := DecodeBatch(strings.NewReader(`[{"Rut Docente": 123456789012345678, "Docente": "Ana"}]`))
	require.NoError(t, err)
	require.Len(t, b.Rows, 1)
	require.Nil(t, b.SiteID)
	require.Equal(t, json.Number("123456789012345678"), b.Rows[0]["Rut Docente"])
	require.Equal(t, "123456789012345678", b.Rows[0].Text(ColTeacherID))

	b, err = DecodeBatch(strings.NewReader(` {"rows": [{"Codigo": "A-1"}, {"Codigo": "A-2"}], "site_id": 7}`))
	require.NoError(t, err)
	require.Len(t, b.Rows, 2)
	require.Equal(t, int64(7), *b.SiteID)
}

func TestDecodeBatch_Rejects(t *testing.T) {
	for _, payload := range []string{"", "  ", `{"data": []}`, `"rows"`, `[{"a": 1}`, `{"rows": [], "site_id": 1.5}`} {
		_, err := DecodeBatch(strings.NewReader(payload))
		require.Error(t, err, "payload %q", payload)
	}
}

func TestDecodeBatch_NonObjectRowsBecomeEmpty(t *testing.T) {
	b, err := DecodeBatch(strings.NewReader(`[{"Codigo": "A-1"}, "x", null, 7, {"Codigo": "A-2"}]`))
	require.NoError(t, err)
	require.Len(t, b.Rows, 5)
	require.Equal(t, "A-1", b.Rows[0].Text(ColRoomCode))
	for _, r := range b.Rows[1:4] {
		require.Empty(t, r)
	}
	require.Equal(t, "A-2", b.Rows[4].Text(ColRoomCode))

	b, err = DecodeBatch(strings.NewReader(`{"rows": [[1], {"Mail": "a@x.cl"}]}`))
	require.NoError(t, err)
	require.Len(t, b.Rows, 2)
	require.Empty(t, b.Rows[0])
}
