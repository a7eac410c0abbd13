package resource

import (
	"bufio"
	"fmt"
	"strings"
)

// ParseRecords parses a resource producer's output into records. The
// format is line-oriented: "key: value" starts a field, a line indented
// with whitespace continues the previous field's value, and a blank
// line ends the current record. A lone "." on a continuation line
// stands for an empty line inside a multi-line value.
func ParseRecords(output string) ([]*Record, error) {
	var records []*Record
	var current *Record
	var lastKey string

	flush := func() {
		if current != nil && current.Len() > 0 {
			records = append(records, current)
		}
		current = nil
		lastKey = ""
	}

	scanner := bufio.NewScanner(strings.NewReader(output))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := scanner.Text()

		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}

		if line[0] == ' ' || line[0] == '\t' {
			if current == nil || lastKey == "" {
				return nil, fmt.Errorf("line %d: continuation without a field", lineno)
			}
			part := strings.TrimSpace(line)
			if part == "." {
				part = ""
			}
			prev, _ := current.Str(lastKey)
			current.Set(lastKey, prev+"\n"+part)
			continue
		}

		key, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("line %d: expected \"key: value\", got %q", lineno, line)
		}
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, fmt.Errorf("line %d: empty field name", lineno)
		}
		if current == nil {
			current = NewRecord()
		}
		if current.Has(key) {
			return nil, fmt.Errorf("line %d: duplicate field %q in one record", lineno, key)
		}
		current.Set(key, strings.TrimSpace(value))
		lastKey = key
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan resource output: %w", err)
	}
	flush()

	return records, nil
}
