package export

import (
	"io"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/leadstorm/internal/model"
)

// SheetName is the worksheet holding exported leads.
const SheetName = "Leads"

// WriteXLSX writes a single-sheet workbook with a bold header row.
func WriteXLSX(w io.Writer, leads []model.Lead) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(SheetName)
	if err != nil {
		return eris.Wrap(err, "export: add sheet")
	}

	bold := xlsx.NewStyle()
	bold.Font.Bold = true
	bold.ApplyFont = true

	header := sheet.AddRow()
	for _, h := range Header {
		cell := header.AddCell()
		cell.SetString(h)
		cell.SetStyle(bold)
	}

	for _, l := range leads {
		row := sheet.AddRow()
		for _, v := range Record(l) {
			row.AddCell().SetString(v)
		}
	}

	if err := f.Write(w); err != nil {
		return eris.Wrap(err, "export: write xlsx")
	}
	return nil
}
