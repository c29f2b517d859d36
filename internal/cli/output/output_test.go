package output

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rows struct{ data [][]string }

func (r rows) Headers() []string { return []string{"Type", "Source"} }
func (r rows) Rows() [][]string  { return r.data }

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", FormatTable, false},
		{"TABLE", FormatTable, false},
		{" json ", FormatJSON, false},
		{"yml", FormatYAML, false},
		{"xml", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPrint_Table(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Print(&buf, FormatTable, rows{data: [][]string{{"auth/none", "builtin"}}}))

	out := buf.String()
	assert.Contains(t, out, "TYPE")
	assert.Contains(t, out, "SOURCE")
	assert.Contains(t, out, "auth/none")
	assert.Contains(t, out, "builtin")
}

func TestPrint_TableFallsBackToJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Print(&buf, FormatTable, map[string]int{"count": 2}))
	assert.JSONEq(t, `{"count": 2}`, buf.String())
}

func TestPrint_YAML(t *testing.T) {
	var buf bytes.Buffer
	data := struct {
		Type string `yaml:"type"`
	}{Type: "auth/jwt"}

	require.NoError(t, Print(&buf, FormatYAML, data))
	assert.Equal(t, "type: auth/jwt\n", buf.String())
}

func TestPrint_UnknownFormat(t *testing.T) {
	require.Error(t, Print(&bytes.Buffer{}, Format("xml"), nil))
}
