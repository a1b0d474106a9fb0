package office

import (
	"strings"

	"github.com/mattn/go-runewidth"
)

// renderTable 将表头与行渲染为按显示宽度右对齐的文本表。
// 列间两个空格分隔，行尾空白去除；无列时返回空串。
func renderTable(cols []string, rows [][]string) string {
	if len(cols) == 0 {
		return ""
	}
	widths := make([]int, len(cols))
	for i, c := range cols {
		widths[i] = runewidth.StringWidth(c)
	}
	for _, r := range rows {
		for i := range cols {
			if i < len(r) {
				if w := runewidth.StringWidth(flatten(r[i])); w > widths[i] {
					widths[i] = w
				}
			}
		}
	}

	var b strings.Builder
	writeLine := func(cells []string) {
		var line strings.Builder
		for i := range cols {
			if i > 0 {
				line.WriteString("  ")
			}
			v := ""
			if i < len(cells) {
				v = flatten(cells[i])
			}
			line.WriteString(runewidth.FillLeft(v, widths[i]))
		}
		b.WriteString(strings.TrimRight(line.String(), " "))
	}
	writeLine(cols)
	for _, r := range rows {
		b.WriteByte('\n')
		writeLine(r)
	}
	return b.String()
}

// flatten 将单元格内换行折叠为空格，保证一行一条记录。
func flatten(s string) string {
	if !strings.ContainsAny(s, "\r\n") {
		return s
	}
	return strings.Join(strings.Fields(s), " ")
}
