package wire

import (
	"bytes"
	"log/slog"
)

// DefaultStreakLimit is the number of consecutive malformed lines after which
// the splitter reports a parse failure.
const DefaultStreakLimit = 3

// Splitter accumulates streamed text and emits one Item per complete JSONL
// line, in arrival order. Lines are trimmed; blank lines and code-fence
// markers are skipped (prompts forbid fences, models emit them anyway).
// Malformed lines are discarded and counted; a streak of them produces a
// single ParseFailureItem.
//
// A Splitter serves one pass of one turn and is not safe for concurrent use.
type Splitter struct {
	buf       []byte
	streak    int
	limit     int
	malformed int
}

// NewSplitter returns a splitter that reports a parse failure after
// streakLimit consecutive malformed lines. Non-positive limits fall back to
// DefaultStreakLimit.
func NewSplitter(streakLimit int) *Splitter {
	if streakLimit <= 0 {
		streakLimit = DefaultStreakLimit
	}
	return &Splitter{limit: streakLimit}
}

// Feed appends a text chunk and returns the items completed by it.
func (s *Splitter) Feed(chunk string) []Item {
	s.buf = append(s.buf, chunk...)
	var items []Item
	for {
		i := bytes.IndexByte(s.buf, '\n')
		if i < 0 {
			break
		}
		line := s.buf[:i]
		s.buf = s.buf[i+1:]
		if item := s.processLine(line); item != nil {
			items = append(items, item)
		}
	}
	return items
}

// Flush processes a trailing unterminated line at stream end.
func (s *Splitter) Flush() []Item {
	line := s.buf
	s.buf = nil
	if item := s.processLine(line); item != nil {
		return []Item{item}
	}
	return nil
}

// Malformed returns the total count of discarded lines, for telemetry.
func (s *Splitter) Malformed() int { return s.malformed }

// Streak returns the current consecutive-failure count.
func (s *Splitter) Streak() int { return s.streak }

func (s *Splitter) processLine(line []byte) Item {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 {
		return nil
	}
	if bytes.HasPrefix(trimmed, []byte("```")) {
		return nil
	}
	item, err := DecodeLine(trimmed)
	if err != nil {
		s.malformed++
		s.streak++
		slog.Debug("Discarding malformed model line", "error", err, "streak", s.streak)
		if s.streak >= s.limit {
			streak := s.streak
			s.streak = 0
			return ParseFailureItem{Streak: streak}
		}
		return nil
	}
	s.streak = 0
	return item
}
