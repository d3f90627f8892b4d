package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"
)

const maxSheetColumns = 50

type Spreadsheet struct{}

type sheet struct {
	name string
	rows [][]string
}

func (s *Spreadsheet) Extract(ctx context.Context, data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("%w: excel file is empty", ErrExtraction)
	}
	if len(data) < 8 {
		return "", fmt.Errorf("%w: invalid excel file", ErrExtraction)
	}

	var sheets []sheet
	var err error
	if isZip(data) {
		sheets, err = readXLSX(data)
		if err != nil {
			sheets, err = readXLS(data)
		}
	} else {
		sheets, err = readXLS(data)
	}
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	return renderWorkbook(sheets), nil
}

func isZip(data []byte) bool {
	return len(data) > 4 && data[0] == 'P' && data[1] == 'K'
}

func readXLSX(data []byte) ([]sheet, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, extractionError("xlsx", err)
	}
	defer f.Close()

	var sheets []sheet
	for _, name := range f.GetSheetList() {
		rows, err := f.GetRows(name)
		if err != nil {
			return nil, extractionError("xlsx", err)
		}
		sheets = append(sheets, sheet{name: name, rows: rows})
	}
	return sheets, nil
}

func readXLS(data []byte) (sheets []sheet, err error) {
	defer func() {
		if r := recover(); r != nil {
			sheets = nil
			err = extractionError("xls", fmt.Errorf("%v", r))
		}
	}()

	wb, err := xls.OpenReader(bytes.NewReader(data), "utf-8")
	if err != nil {
		return nil, extractionError("xls", err)
	}
	if wb == nil {
		return nil, extractionError("xls", errors.New("cannot read workbook"))
	}

	for i := 0; i < wb.NumSheets(); i++ {
		ws := wb.GetSheet(i)
		if ws == nil {
			continue
		}
		sh := sheet{name: ws.Name}
		for r := 0; r <= int(ws.MaxRow); r++ {
			row := ws.Row(r)
			if row == nil {
				continue
			}
			cells := make([]string, 0, row.LastCol())
			for c := 0; c < row.LastCol(); c++ {
				cells = append(cells, row.Col(c))
			}
			sh.rows = append(sh.rows, cells)
		}
		sheets = append(sheets, sh)
	}
	return sheets, nil
}

func renderWorkbook(sheets []sheet) string {
	var sb strings.Builder
	sb.WriteString("=== EXCEL DOCUMENT ===\n\n")

	for _, sh := range sheets {
		fmt.Fprintf(&sb, "--- WORKSHEET: '%s' ---\n\n", sh.name)

		table := tabulate(sh.rows)
		if len(table) == 0 {
			sb.WriteString("(empty sheet)\n\n")
			continue
		}

		sb.WriteString("DATA IN TABULAR FORM:\n")
		for _, row := range table {
			sb.WriteString(strings.Join(row, " | "))
			sb.WriteString("\n")
		}
		sb.WriteString("\n")

		fmt.Fprintf(&sb, "SUMMARY: %d data rows, %d columns\n\n", len(table)-1, len(table[0]))
	}
	return sb.String()
}

// tabulate pads rows to the widest row (capped), prepends a synthetic
// "Col N" header and drops rows whose cells are all blank.
func tabulate(rows [][]string) [][]string {
	width := 0
	for _, row := range rows {
		if len(row) > width {
			width = len(row)
		}
	}
	if width > maxSheetColumns {
		width = maxSheetColumns
	}
	if width == 0 {
		return nil
	}

	header := make([]string, width)
	for i := range header {
		header[i] = fmt.Sprintf("Col %d", i+1)
	}
	table := [][]string{header}

	for _, row := range rows {
		cells := make([]string, width)
		blank := true
		for i := 0; i < width && i < len(row); i++ {
			cells[i] = strings.TrimSpace(row[i])
			if cells[i] != "" {
				blank = false
			}
		}
		if !blank {
			table = append(table, cells)
		}
	}
	return table
}
