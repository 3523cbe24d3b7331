package export

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrEmptyTable ヘッダーのない表
var ErrEmptyTable = errors.New("table has no headers")

// Table 結果表。セルは文字列・数値・真偽値・nilのいずれか。
type Table struct {
	Title   string          `json:"title,omitempty"`
	Headers []string        `json:"headers"`
	Rows    [][]interface{} `json:"rows"`
}

// UnmarshalJSON 行は配列、またはヘッダー名をキーにしたオブジェクトのどちらでもよい。
// オブジェクトの行はヘッダー順のセルに並べ替える。
func (t *Table) UnmarshalJSON(data []byte) error {
	var raw struct {
		Title   string            `json:"title"`
		Headers []string          `json:"headers"`
		Rows    []json.RawMessage `json:"rows"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	rows := make([][]interface{}, 0, len(raw.Rows))
	for i, r := range raw.Rows {
		trimmed := bytes.TrimSpace(r)
		switch {
		case len(trimmed) > 0 && trimmed[0] == '{':
			var record map[string]interface{}
			if err := json.Unmarshal(trimmed, &record); err != nil {
				return fmt.Errorf("row %d: %w", i+1, err)
			}
			row := make([]interface{}, len(raw.Headers))
			for col, h := range raw.Headers {
				row[col] = record[h]
			}
			rows = append(rows, row)
		default:
			var row []interface{}
			if err := json.Unmarshal(trimmed, &row); err != nil {
				return fmt.Errorf("row %d must be an array or an object: %w", i+1, err)
			}
			rows = append(rows, row)
		}
	}

	*t = Table{Title: raw.Title, Headers: raw.Headers, Rows: rows}
	return nil
}

// Validate 行の列数がヘッダーを超えていないか確認する
func (t Table) Validate() error {
	if len(t.Headers) == 0 {
		return ErrEmptyTable
	}
	for i, row := range t.Rows {
		if len(row) > len(t.Headers) {
			return fmt.Errorf("row %d has %d cells but the table has %d columns", i+1, len(row), len(t.Headers))
		}
	}
	return nil
}

// FormatCell セルを表示用の文字列にする。浮動小数点は最短表現。
func FormatCell(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		return strconv.FormatBool(x)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

// MarkdownTable パイプ区切りのMarkdown表を返す
func MarkdownTable(t Table) (string, error) {
	if err := t.Validate(); err != nil {
		return "", err
	}

	var b strings.Builder
	writeRow := func(cells []string) {
		b.WriteString("|")
		for _, c := range cells {
			b.WriteString(" ")
			b.WriteString(escapeMarkdown(c))
			b.WriteString(" |")
		}
		b.WriteString("\n")
	}

	writeRow(t.Headers)
	sep := make([]string, len(t.Headers))
	for i := range sep {
		sep[i] = "---"
	}
	writeRow(sep)

	for _, row := range t.Rows {
		cells := make([]string, len(t.Headers))
		for i := range cells {
			if i < len(row) {
				cells[i] = FormatCell(row[i])
			}
		}
		writeRow(cells)
	}
	return b.String(), nil
}

func escapeMarkdown(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	s = strings.ReplaceAll(s, "\r\n", " ")
	return strings.ReplaceAll(s, "\n", " ")
}
