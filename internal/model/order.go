package model

import (
	"cmp"
	"slices"
)

// SortChronological orders messages by timestamp ascending. The sort is
// stable, so equal timestamps keep their arrival order.
func SortChronological(msgs []*Message) {
	slices.SortStableFunc(msgs, func(a, b *Message) int {
		return cmp.Compare(a.Timestamp, b.Timestamp)
	})
}

// Joined reports whether a is visually grouped with its successor b:
// same sender and neither is an information message.
func Joined(a, b *Message) bool {
	return a.SenderID == b.SenderID && !a.IsInformation() && !b.IsInformation()
}

// ComputeTails sets Tail on every message of a chronological sequence.
func ComputeTails(msgs []*Message) {
	for i, m := range msgs {
		m.Tail = i+1 >= len(msgs) || !Joined(m, msgs[i+1])
	}
}

// RetailPair recomputes prev's flag against its new successor next (nil when
// prev became the last message). It reports whether the flag changed.
func RetailPair(prev, next *Message) bool {
	if prev == nil {
		return false
	}
	tail := next == nil || !Joined(prev, next)
	changed := prev.Tail != tail
	prev.Tail = tail
	return changed
}
