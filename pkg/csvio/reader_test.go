package csvio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeCommaDelimited(t *testing.T) {
	raw := []byte("name,email\nAda,ada@uni.cl\nBob,bob@uni.cl\n")
	table, err := Decode(raw, "latin1")
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "email"}, table.Headers)
	assert.Len(t, table.Rows, 2)
	assert.Equal(t, ',', int32(table.Delimiter))
}

func TestDecodeSemicolonDelimited(t *testing.T) {
	raw := []byte("name;email\nAda;ada@uni.cl\n")
	table, err := Decode(raw, "latin1")
	require.NoError(t, err)
	assert.Equal(t, ';', int32(table.Delimiter))
	assert.Equal(t, []string{"Ada", "ada@uni.cl"}, table.Rows[0])
}

func TestDecodeStripsBOM(t *testing.T) {
	raw := append([]byte{0xEF, 0xBB, 0xBF}, []byte("name,email\nAda,ada@uni.cl\n")...)
	table, err := Decode(raw, "latin1")
	require.NoError(t, err)
	assert.Equal(t, "name", table.Headers[0])
}

func TestDecodeLatin1Fallback(t *testing.T) {
	// "Teléfono" encoded in ISO-8859-1: é = 0xE9.
	raw := []byte{'T', 'e', 'l', 0xE9, 'f', 'o', 'n', 'o', '\n', '1', '2', '3', '\n'}
	table, err := Decode(raw, "latin1")
	require.NoError(t, err)
	assert.Equal(t, "Teléfono", table.Headers[0])
}

func TestDecodeQuotedEmbeddedNewline(t *testing.T) {
	raw := []byte("name,notes\nAda,\"line one\nline two\"\n")
	table, err := Decode(raw, "latin1")
	require.NoError(t, err)
	require.Len(t, table.Rows, 1)
	assert.Equal(t, "line one\nline two", table.Rows[0][1])
}

func TestDecodeRaggedRowsPadded(t *testing.T) {
	raw := []byte("a,b,c\n1,2\n1,2,3,4\n")
	table, err := Decode(raw, "latin1")
	require.NoError(t, err)
	require.Len(t, table.Rows, 2)
	assert.Equal(t, []string{"1", "2", ""}, table.Rows[0])
	assert.Equal(t, []string{"1", "2", "3"}, table.Rows[1])
}

func TestDecodeSkipsBlankRows(t *testing.T) {
	raw := []byte("a,b\n1,2\n,\n3,4\n")
	table, err := Decode(raw, "latin1")
	require.NoError(t, err)
	assert.Len(t, table.Rows, 2)
}

func TestDecodeEmptyInput(t *testing.T) {
	_, err := Decode(nil, "latin1")
	assert.Error(t, err)
}

func TestDecodeUnknownFallbackEncoding(t *testing.T) {
	raw := []byte{0xE9, 0xFF, 0xFE}
	_, err := Decode(raw, "shift-jis")
	assert.Error(t, err)
}
