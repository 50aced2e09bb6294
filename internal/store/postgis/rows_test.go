package postgis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBindValues_SortsColumns(t *testing.T) {
	cols, args, err := bindValues(map[string]any{"population": 10, "name": "Lyon", "area": nil})
	require.NoError(t, err)
	assert.Equal(t, []string{"area", "name", "population"}, cols)
	assert.Equal(t, []any{nil, "Lyon", "10"}, args)
}

func TestOpenDB_InvalidURL(t *testing.T) {
	_, err := OpenDB("postgres://%zz")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse database url")
}

func TestNew_Defaults(t *testing.T) {
	s := New(nil, nil, 0, nil)
	assert.Equal(t, DefaultStatementTimeout, s.timeout)
	assert.Nil(t, s.admin)
}
