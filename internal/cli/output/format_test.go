package output

import (
	"bytes"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Format
		wantErr bool
	}{
		{name: "table", input: "table", want: FormatTable},
		{name: "empty defaults to table", input: "", want: FormatTable},
		{name: "JSON uppercase", input: "JSON", want: FormatJSON},
		{name: "yml alias", input: "yml", want: FormatYAML},
		{name: "whitespace trimmed", input: "  yaml  ", want: FormatYAML},
		{name: "invalid format", input: "xml", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFormat(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

type migrationRow struct {
	Version uint   `json:"version" yaml:"version"`
	Name    string `json:"name" yaml:"name"`
}

type migrationRows []migrationRow

func (m migrationRows) Headers() []string { return []string{"Version", "Name"} }

func (m migrationRows) Rows() [][]string {
	rows := make([][]string, 0, len(m))
	for _, r := range m {
		rows = append(rows, []string{"v" + strconv.FormatUint(uint64(r.Version), 10), r.Name})
	}
	return rows
}

func TestPrinter_Print(t *testing.T) {
	data := migrationRows{{Version: 1, Name: "create_users"}, {Version: 2, Name: "create_chat_histories"}}

	t.Run("Table", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, NewPrinter(&buf, FormatTable, false).Print(data))
		out := buf.String()
		assert.Contains(t, out, "VERSION")
		assert.Contains(t, out, "v1")
		assert.Contains(t, out, "create_chat_histories")
	})

	t.Run("JSON", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, NewPrinter(&buf, FormatJSON, false).Print(data))
		assert.Contains(t, buf.String(), `"name": "create_users"`)
	})

	t.Run("YAML", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, NewPrinter(&buf, FormatYAML, false).Print(data))
		assert.Contains(t, buf.String(), "- version: 1")
	})

	t.Run("TableFallsBackToJSON", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, NewPrinter(&buf, FormatTable, false).Print(map[string]int{"applied": 2}))
		assert.Contains(t, buf.String(), `"applied": 2`)
	})

	t.Run("UnknownFormat", func(t *testing.T) {
		assert.Error(t, NewPrinter(&bytes.Buffer{}, Format("xml"), false).Print(data))
	})
}

func TestPrinter_Status(t *testing.T) {
	var plain bytes.Buffer
	NewPrinter(&plain, FormatTable, false).Success("Applied 2 migrations")
	assert.Equal(t, "Applied 2 migrations\n", plain.String())

	var colored bytes.Buffer
	NewPrinter(&colored, FormatTable, true).Warning("drift")
	assert.Equal(t, "\033[33mdrift\033[0m\n", colored.String())
}

func TestPrintPairs(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PrintPairs(&buf, [][2]string{
		{"Probe target", "db:5432"},
		{"Database", "postgres"},
	}))
	out := buf.String()
	assert.Contains(t, out, "Probe target")
	assert.Contains(t, out, "db:5432")
	assert.Contains(t, out, "postgres")
}

func TestTableData(t *testing.T) {
	table := NewTableData("Name", "Status")
	assert.Empty(t, table.Rows())

	table.AddRow("database", "healthy")
	table.AddRow("cache", "unhealthy")
	require.Len(t, table.Rows(), 2)
	assert.Equal(t, []string{"cache", "unhealthy"}, table.Rows()[1])
}
