package export

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/leadstorm/internal/model"
)

func sampleLeads() []model.Lead {
	return []model.Lead{
		{
			Name: `Joe's "Best" Bakery`, Email: "joe@bakery.test", Phone: "+1 512-555-0100",
			Website: "https://bakery.test", Address: "1 Main St, Austin, TX", City: "Austin", Keyword: "bakery",
			CreatedAt: time.Date(2026, 3, 14, 22, 15, 0, 0, time.UTC),
		},
		{
			Name: "Cafe Two", Email: "hi@cafe.test", City: "Austin", Keyword: "bakery",
			CreatedAt: time.Date(2026, 3, 15, 8, 0, 0, 0, time.UTC),
		},
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in   string
		want Format
		err  bool
	}{
		{"", FormatCSV, false},
		{"csv", FormatCSV, false},
		{" XLSX ", FormatXLSX, false},
		{"pdf", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormat_Filename(t *testing.T) {
	assert.Equal(t, "leadstorm_leads.csv", FormatCSV.Filename())
	assert.Equal(t, "leadstorm_leads.xlsx", FormatXLSX.Filename())
	assert.Contains(t, FormatCSV.ContentType(), "text/csv")
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, sampleLeads()))

	want := `"Date","Name","Email","Phone","Website","Address","City","Keyword"` + "\r\n" +
		`"2026-03-14","Joe's ""Best"" Bakery","joe@bakery.test","+1 512-555-0100","https://bakery.test","1 Main St, Austin, TX","Austin","bakery"` + "\r\n" +
		`"2026-03-15","Cafe Two","hi@cafe.test","","","","Austin","bakery"` + "\r\n"
	assert.Equal(t, want, buf.String())
}

func TestWriteCSV_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, nil))
	assert.Equal(t, `"Date","Name","Email","Phone","Website","Address","City","Keyword"`+"\r\n", buf.String())
}

func TestWriteXLSX(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatXLSX, sampleLeads()))

	f, err := xlsx.OpenBinary(buf.Bytes())
	require.NoError(t, err)
	sheet, ok := f.Sheet[SheetName]
	require.True(t, ok)
	require.Len(t, sheet.Rows, 3)

	cells := func(r *xlsx.Row) []string {
		out := make([]string, len(r.Cells))
		for i, c := range r.Cells {
			out[i] = c.String()
		}
		return out
	}
	assert.Equal(t, Header, cells(sheet.Rows[0]))
	assert.Equal(t, Record(sampleLeads()[0]), cells(sheet.Rows[1]))
	assert.Equal(t, "2026-03-15", sheet.Rows[2].Cells[0].String())
}
