package office

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"

	"github.com/xuri/excelize/v2"

	"aiinsight/pkg/contract"
)

// readWorkbook 读取首个工作表：首行为表头，其余为数据行。
// 空表头命名为 "Unnamed: <i>"，重复表头追加 ".1"、".2" 后缀；短行补空串。
func readWorkbook(data []byte, raw bool) (contract.Table, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return contract.Table{}, err
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return contract.Table{}, errors.New("workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0], excelize.Options{RawCellValue: raw})
	if err != nil {
		return contract.Table{}, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	if len(rows) == 0 {
		return contract.Table{}, nil
	}

	width := 0
	for _, r := range rows {
		if len(r) > width {
			width = len(r)
		}
	}
	cols := headerNames(rows[0], width)
	body := make([][]string, 0, len(rows)-1)
	for _, r := range rows[1:] {
		row := make([]string, width)
		for i, v := range r {
			row[i] = nfc(v)
		}
		body = append(body, row)
	}
	return contract.Table{Columns: cols, Rows: body}, nil
}

func headerNames(first []string, width int) []string {
	cols := make([]string, width)
	seen := make(map[string]int, width)
	for i := 0; i < width; i++ {
		name := ""
		if i < len(first) {
			name = nfc(first[i])
		}
		if name == "" {
			name = "Unnamed: " + strconv.Itoa(i)
		}
		if n, dup := seen[name]; dup {
			seen[name] = n + 1
			name = name + "." + strconv.Itoa(n+1)
		} else {
			seen[name] = 0
		}
		cols[i] = name
	}
	return cols
}
