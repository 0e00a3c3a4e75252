package input

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"

	"github.com/Sternrassler/batch-api-runner/pkg/batch"
)

func TestLoadCSV(t *testing.T) {
	rows, err := LoadCSV(strings.NewReader("id,name\n101,alpha\n 102 ,beta\n"), DefaultOptions())
	require.NoError(t, err)
	require.Len(t, rows, 2)

	id, ok := rows[0].ID()
	require.True(t, ok)
	require.Equal(t, "101", id)
	require.Equal(t, 0, rows[0].Seq)

	id, _ = rows[1].ID()
	require.Equal(t, "102", id)
	require.Equal(t, 1, rows[1].Seq)

	name, ok := rows[1].Get("name")
	require.True(t, ok)
	require.Equal(t, "beta", name)
	require.Equal(t, []string{"id", "name"}, rows[0].Columns())
}

func TestLoadCSV_HeaderTrimAndBOM(t *testing.T) {
	input := "\xEF\xBB\xBF id , phone\n7,555\n"
	rows, err := LoadCSV(strings.NewReader(input), DefaultOptions())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, []string{"id", "phone"}, rows[0].Columns())

	id, ok := rows[0].ID()
	require.True(t, ok)
	require.Equal(t, "7", id)
}

func TestLoadCSV_MissingID(t *testing.T) {
	_, err := LoadCSV(strings.NewReader("name,phone\nalpha,1\n"), DefaultOptions())
	require.Error(t, err)
	require.True(t, errors.Is(err, batch.ErrMissingID))
}

func TestLoadCSV_Empty(t *testing.T) {
	rows, err := LoadCSV(strings.NewReader(""), DefaultOptions())
	require.NoError(t, err)
	require.Empty(t, rows)

	rows, err = LoadCSV(strings.NewReader("id,name\n"), DefaultOptions())
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestLoadCSV_SkipsBlankLinesAndShortRows(t *testing.T) {
	rows, err := LoadCSV(strings.NewReader("id,name,note\n1,a,x\n,,\n2,b\n"), DefaultOptions())
	require.NoError(t, err)
	require.Len(t, rows, 2)

	note, ok := rows[1].Get("note")
	require.True(t, ok)
	require.Nil(t, note)
	require.Equal(t, 1, rows[1].Seq)
}

func TestLoadCSV_Delimiter(t *testing.T) {
	rows, err := LoadCSV(strings.NewReader("id;name\n1;alpha\n"), Options{Delimiter: ";"})
	require.NoError(t, err)
	require.Len(t, rows, 1)

	name, _ := rows[0].Get("name")
	require.Equal(t, "alpha", name)

	rows, err = LoadCSV(strings.NewReader("id\tname\n1\talpha\n"), Options{Delimiter: `\t`})
	require.NoError(t, err)
	require.Len(t, rows, 1)

	_, err = LoadCSV(strings.NewReader("id\n1\n"), Options{Delimiter: "::"})
	require.ErrorIs(t, err, ErrInvalidOptions)
}

func TestLoadCSV_Windows1251(t *testing.T) {
	encoded, err := charmap.Windows1251.NewEncoder().String("id,city\n1,Москва\n")
	require.NoError(t, err)

	rows, err := LoadCSV(strings.NewReader(encoded), Options{Encoding: EncodingWindows1251})
	require.NoError(t, err)
	require.Len(t, rows, 1)

	city, _ := rows[0].Get("city")
	require.Equal(t, "Москва", city)
}

func TestLoadCSV_UnknownEncoding(t *testing.T) {
	_, err := LoadCSV(strings.NewReader("id\n1\n"), Options{Encoding: "latin-9"})
	require.ErrorIs(t, err, ErrInvalidOptions)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rows.csv")
	require.NoError(t, os.WriteFile(path, []byte("id\n1\n2\n3\n"), 0o600))

	rows, err := LoadFile(path, DefaultOptions())
	require.NoError(t, err)
	require.Len(t, rows, 3)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.csv"), DefaultOptions())
	require.Error(t, err)
}
