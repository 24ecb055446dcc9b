package export

import (
	"bufio"
	"io"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/leadstorm/internal/model"
)

// WriteCSV writes a header and one row per lead. Every field is quoted so
// phone numbers and addresses survive spreadsheet import untouched.
func WriteCSV(w io.Writer, leads []model.Lead) error {
	bw := bufio.NewWriter(w)
	writeQuoted(bw, Header)
	for _, l := range leads {
		writeQuoted(bw, Record(l))
	}
	return eris.Wrap(bw.Flush(), "export: write csv")
}

func writeQuoted(w *bufio.Writer, fields []string) {
	for i, f := range fields {
		if i > 0 {
			_ = w.WriteByte(',')
		}
		_ = w.WriteByte('"')
		_, _ = w.WriteString(strings.ReplaceAll(f, `"`, `""`))
		_ = w.WriteByte('"')
	}
	_, _ = w.WriteString("\r\n")
}
