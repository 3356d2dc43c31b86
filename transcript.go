package realtime

import "strings"

// TranscriptAccumulator collects the deltas of the in-flight assistant
// utterance. The zero value is empty and ready to use.
type TranscriptAccumulator struct {
	b strings.Builder
}

func (t *TranscriptAccumulator) Append(delta string) {
	t.b.WriteString(delta)
}

func (t *TranscriptAccumulator) String() string {
	return t.b.String()
}

func (t *TranscriptAccumulator) Len() int {
	return t.b.Len()
}

// Flush returns the accumulated text and resets the accumulator.
func (t *TranscriptAccumulator) Flush() string {
	s := t.b.String()
	t.b.Reset()
	return s
}
