package resource

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRecords(t *testing.T) {
	records, err := ParseRecords("path: /dev/sda\nremovable: no\n\npath: /dev/sdb\nremovable: yes\n")
	require.NoError(t, err)
	require.Len(t, records, 2)

	path, err := records[0].Str("path")
	require.NoError(t, err)
	assert.Equal(t, "/dev/sda", path)
	assert.Equal(t, []string{"path", "removable"}, records[0].Keys())

	removable, err := records[1].Bool("removable")
	require.NoError(t, err)
	assert.True(t, removable)
}

func TestParseRecordsEmptyOutput(t *testing.T) {
	records, err := ParseRecords("")
	require.NoError(t, err)
	assert.Empty(t, records)

	records, err = ParseRecords("\n\n\n")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestParseRecordsContinuation(t *testing.T) {
	records, err := ParseRecords("summary: first line\n second line\n .\n third line\n")
	require.NoError(t, err)
	require.Len(t, records, 1)

	summary, err := records[0].Str("summary")
	require.NoError(t, err)
	assert.Equal(t, "first line\nsecond line\n\nthird line", summary)
}

func TestParseRecordsTrailingRecordWithoutBlankLine(t *testing.T) {
	records, err := ParseRecords("name: eth0")
	require.NoError(t, err)
	require.Len(t, records, 1)
}

func TestParseRecordsErrors(t *testing.T) {
	tests := []struct {
		name   string
		output string
	}{
		{"no colon", "just some text\n"},
		{"empty key", ": value\n"},
		{"orphan continuation", " continuation first\n"},
		{"duplicate field", "a: 1\na: 2\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseRecords(tc.output)
			assert.Error(t, err)
		})
	}
}
