package at

import (
	"bufio"
	"bytes"
	"strings"
)

var finalCodes = map[string]bool{
	OK:         true,
	ERROR:      true,
	NoCarrier:  true,
	NoDialtone: true,
	Busy:       true,
	NoAnswer:   true,
}

// SplitLines is a bufio.SplitFunc for captured replies. Lines end in LF
// with an optional CR; the SMS prompt is a token of its own.
func SplitLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	switch {
	case len(data) == 0:
		return 0, nil, nil
	case bytes.HasPrefix(data, []byte(Prompt)):
		return len(Prompt), data[:len(Prompt)], nil
	}

	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		return i + 1, bytes.TrimSuffix(data[:i], []byte{'\r'}), nil
	}
	if atEOF {
		return len(data), bytes.TrimSuffix(data, []byte{'\r'}), nil
	}
	return 0, nil, nil
}

var _ bufio.SplitFunc = SplitLines

// Classify identifies the nature of one reply line.
func Classify(line string) ResponseType {
	switch {
	case line == Prompt:
		return TypePrompt
	case finalCodes[line],
		strings.HasPrefix(line, CmeError),
		strings.HasPrefix(line, CmsError):
		return TypeFinal
	case line == UrcCall,
		strings.HasPrefix(line, UrcNewMsg),
		strings.HasPrefix(line, UrcMessageReport):
		return TypeURC
	}
	return TypeData
}

// Lines returns the data lines of a captured reply, trimmed. Blank lines
// and final result codes are dropped.
func Lines(reply []byte) []string {
	scanner := bufio.NewScanner(bytes.NewReader(reply))
	scanner.Split(SplitLines)

	var lines []string
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" && Classify(line) != TypeFinal {
			lines = append(lines, line)
		}
	}
	return lines
}
