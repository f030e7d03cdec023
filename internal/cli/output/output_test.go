package output

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"table", FormatTable, false},
		{"", FormatTable, false},
		{"JSON", FormatJSON, false},
		{"yaml", FormatYAML, false},
		{"yml", FormatYAML, false},
		{"xml", "", true},
	}

	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if tt.wantErr {
			assert.Error(t, err, "ParseFormat(%q)", tt.in)
			continue
		}
		require.NoError(t, err, "ParseFormat(%q)", tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestPrintTable(t *testing.T) {
	var buf bytes.Buffer
	err := PrintTable(&buf, []string{"Status", "Count"}, [][]string{
		{"synced", "12"},
		{"indexed", "7"},
	})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "STATUS")
	assert.Contains(t, out, "COUNT")
	assert.Contains(t, out, "synced")
	assert.Contains(t, out, "12")
	assert.Contains(t, out, "indexed")
}

func TestSimpleTable(t *testing.T) {
	var buf bytes.Buffer
	err := SimpleTable(&buf, [][2]string{
		{"Total", "19"},
		{"With errors", "2"},
	})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "Total")
	assert.Contains(t, out, "19")
	assert.Contains(t, out, "With errors")
}

func TestPrintJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PrintJSON(&buf, map[string]int{"indexed": 3}))
	assert.Contains(t, buf.String(), `"indexed": 3`)
}

func TestPrintYAML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PrintYAML(&buf, map[string]int{"indexed": 3}))
	assert.Contains(t, buf.String(), "indexed: 3")
}
