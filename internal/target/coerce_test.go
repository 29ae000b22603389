package target

import (
	"testing"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoerceValueEmptyIsNull(t *testing.T) {
	for _, dt := range []string{"text", "bigint", "numeric", "boolean", "date"} {
		v, err := CoerceValue("", dt)
		require.NoError(t, err, dt)
		assert.Nil(t, v, dt)
	}
}

func TestCoerceValueIntegers(t *testing.T) {
	v, err := CoerceValue(" 42 ", "bigint")
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)

	_, err = CoerceValue("forty-two", "integer")
	assert.Error(t, err)
}

func TestCoerceValueNumeric(t *testing.T) {
	v, err := CoerceValue("$1,234.50", "numeric")
	require.NoError(t, err)
	assert.Equal(t, 1234.5, v)

	v, err = CoerceValue("(250.00)", "money")
	require.NoError(t, err)
	assert.Equal(t, -250.0, v)

	_, err = CoerceValue("n/a", "numeric")
	assert.Error(t, err)
}

func TestCoerceValueBoolean(t *testing.T) {
	for raw, want := range map[string]bool{
		"true": true, "YES": true, "1": true,
		"f": false, "No": false, "0": false,
	} {
		v, err := CoerceValue(raw, "boolean")
		require.NoError(t, err, raw)
		assert.Equal(t, want, v, raw)
	}

	_, err := CoerceValue("maybe", "boolean")
	assert.Error(t, err)
}

func TestCoerceValueDate(t *testing.T) {
	v, err := CoerceValue("2024-03-15", "date")
	require.NoError(t, err)
	d, ok := v.(pgtype.Date)
	require.True(t, ok)
	assert.True(t, d.Valid)
	assert.Equal(t, 2024, d.Time.Year())

	v, err = CoerceValue("03/15/2024", "date")
	require.NoError(t, err)
	assert.True(t, v.(pgtype.Date).Valid)

	_, err = CoerceValue("March", "date")
	assert.Error(t, err)
}

func TestCoerceValueTextPassthrough(t *testing.T) {
	v, err := CoerceValue("hello, world", "text")
	require.NoError(t, err)
	assert.Equal(t, "hello, world", v)
}

func TestCoerceRow(t *testing.T) {
	cols := []Column{
		{Name: "id", DataType: "bigint"},
		{Name: "name", DataType: "text"},
		{Name: "amount", DataType: "numeric"},
	}

	row, err := CoerceRow([]string{"7", "widget", "$9.99"}, cols)
	require.NoError(t, err)
	assert.Equal(t, []any{int64(7), "widget", 9.99}, row)

	_, err = CoerceRow([]string{"7", "widget"}, cols)
	assert.Error(t, err)

	_, err = CoerceRow([]string{"x", "widget", "9.99"}, cols)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "column id")
}
