package postgres

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

func placeholder(n int) string {
	return fmt.Sprintf("$%d", n)
}

func placeholders(n int) string {
	list := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		list = append(list, placeholder(i))
	}
	return strings.Join(list, ", ")
}

func limitOffset(limit, offset int) string {
	clause := ""
	if limit > 0 {
		clause += fmt.Sprintf(" LIMIT %d", limit)
	}
	if offset > 0 {
		clause += fmt.Sprintf(" OFFSET %d", offset)
	}
	return clause
}

func marshalJSON(v any) (string, error) {
	bytes, err := json.Marshal(v)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal json column")
	}
	return string(bytes), nil
}

func unmarshalObject(raw []byte) (map[string]any, error) {
	object := map[string]any{}
	if len(raw) == 0 {
		return object, nil
	}
	if err := json.Unmarshal(raw, &object); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal json column")
	}
	return object, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// trailingScanner appends extra destinations after the ones a scan helper asks for.
type trailingScanner struct {
	row   rowScanner
	extra []any
}

func scanWithTrailing(row rowScanner, extra ...any) rowScanner {
	return &trailingScanner{row: row, extra: extra}
}

func (s *trailingScanner) Scan(dest ...any) error {
	return s.row.Scan(append(dest, s.extra...)...)
}
