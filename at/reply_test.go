package at_test

import (
	"bufio"
	"reflect"
	"strings"
	"testing"

	"i4.energy/across/fieldctl/at"
)

func TestSplitLines(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{
			name:     "Signal quality reply",
			input:    "+CSQ: 18,0\r\n\r\nOK",
			expected: []string{"+CSQ: 18,0", "", "OK"},
		},
		{
			name:     "Bare line feeds",
			input:    "+CMGR: \"REC UNREAD\",\"+385911234567\",\"\",\"26/10/19,06:00:00+08\"\nQUERY 3\n\nOK",
			expected: []string{"+CMGR: \"REC UNREAD\",\"+385911234567\",\"\",\"26/10/19,06:00:00+08\"", "QUERY 3", "", "OK"},
		},
		{
			name:     "Prompt is its own token",
			input:    "> Hello\x1a\r\n+CMGS: 12\r\n",
			expected: []string{"> ", "Hello\x1a", "+CMGS: 12"},
		},
		{
			name:     "Carriage return dropped at EOF",
			input:    "+CCLK: \"26/10/19,06:00:00+08\"\r",
			expected: []string{"+CCLK: \"26/10/19,06:00:00+08\""},
		},
		{
			name:     "Empty input",
			input:    "",
			expected: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var tokens []string
			scanner := bufio.NewScanner(strings.NewReader(tt.input))
			scanner.Split(at.SplitLines)
			for scanner.Scan() {
				tokens = append(tokens, scanner.Text())
			}
			if err := scanner.Err(); err != nil {
				t.Fatalf("Scanner error: %v", err)
			}
			if !reflect.DeepEqual(tokens, tt.expected) {
				t.Errorf("Expected %q, got %q", tt.expected, tokens)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		line     string
		expected at.ResponseType
	}{
		{"OK", at.TypeFinal},
		{"ERROR", at.TypeFinal},
		{"NO CARRIER", at.TypeFinal},
		{"+CME ERROR: 10", at.TypeFinal},
		{"+CMS ERROR: 500", at.TypeFinal},
		{"+CMTI: \"SM\",3", at.TypeURC},
		{"+CDSI: \"SR\",1", at.TypeURC},
		{"RING", at.TypeURC},
		{"> ", at.TypePrompt},
		{"+CSQ: 18,0", at.TypeData},
		{"QUERY 3", at.TypeData},
		{"OKAY", at.TypeData},
	}

	for _, tt := range tests {
		if got := at.Classify(tt.line); got != tt.expected {
			t.Errorf("Classify(%q) = %v, expected %v", tt.line, got, tt.expected)
		}
	}
}

func TestLines(t *testing.T) {
	reply := []byte("+CMGR: \"REC READ\",\"+385911234567\"\r\n  HOLD 2 \r\n\r\nOK")
	expected := []string{"+CMGR: \"REC READ\",\"+385911234567\"", "HOLD 2"}

	if got := at.Lines(reply); !reflect.DeepEqual(got, expected) {
		t.Errorf("Expected %q, got %q", expected, got)
	}
	if got := at.Lines([]byte("\r\nERROR\r\n")); got != nil {
		t.Errorf("Expected no lines, got %q", got)
	}
}
