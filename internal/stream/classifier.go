package stream

import (
	"strings"

	"github.com/mingmingshen/neomind/internal/events"
	"github.com/mingmingshen/neomind/internal/llm"
)

const (
	openThink  = "<think>"
	closeThink = "</think>"
)

// holdMarkers are the delimiters the classifier must never split
// across an emit boundary. All are ASCII, so byte-wise scanning can
// never land inside a multibyte rune.
var holdMarkers = []string{openThink, closeThink, openToolCalls, openToolCall}

// Classified is the classifier's final accounting of a stream.
type Classified struct {
	// Content is all text routed to the content channel, including
	// any tool-call islands that were withheld from emission.
	Content string
	// Thinking is all text routed to the thinking channel, including
	// withheld islands.
	Thinking string
	// Held is content text that was routed but never emitted as
	// events because it looked like a tool call. If detection finds
	// no calls, the caller must flush it as content.
	Held string
	// ThinkingHeld is the thinking-channel counterpart of Held.
	ThinkingHeld string
}

// Classifier routes incoming stream chunks to the thinking and content
// channels, emitting events as text is confirmed safe. Text that may
// open a tool-call island is withheld: a partial delimiter at the end
// of a chunk stays buffered until the next chunk resolves it, and a
// confirmed opening suppresses emission for the rest of the stream
// (the detector takes over at Finish).
type Classifier struct {
	sink events.Sink

	inThink  bool
	suppress bool
	jsonHold bool
	started  bool

	pending  string
	content  strings.Builder
	thinking strings.Builder
	held     strings.Builder

	// The thinking field runs the same island detection on its own
	// state: reasoning models plan tool calls there.
	thinkPending  string
	thinkSuppress bool
	thinkJSONHold bool
	thinkStarted  bool
	thinkHeld     strings.Builder
}

// NewClassifier creates a classifier emitting to sink.
func NewClassifier(sink events.Sink) *Classifier {
	return &Classifier{sink: sink}
}

// Feed processes one stream chunk. Content text and thinking-field
// text each pass through marker classification on their own channel.
func (c *Classifier) Feed(chunk llm.Chunk) {
	if chunk.Thinking != "" {
		c.thinkPending += chunk.Thinking
		c.drainThinking(false)
	}
	if chunk.Content != "" {
		c.pending += chunk.Content
		c.drain(false)
	}
}

// Finish flushes remaining buffered text and returns the accumulated
// channels.
func (c *Classifier) Finish() Classified {
	c.drain(true)
	c.drainThinking(true)
	return Classified{
		Content:      c.content.String(),
		Thinking:     c.thinking.String(),
		Held:         c.held.String(),
		ThinkingHeld: c.thinkHeld.String(),
	}
}

// drain routes as much of the pending buffer as can be safely
// classified. With final=true nothing further is coming, so held-back
// partial markers flush through.
func (c *Classifier) drain(final bool) {
	for c.pending != "" {
		if c.suppress {
			// Island confirmed: route silently until the stream ends.
			c.route(c.pending, false)
			c.pending = ""
			return
		}

		if !c.started && !c.inThink && !c.jsonHold {
			// A response that opens with '[' may be a bare JSON
			// tool-call array; hold it until the bracket balances.
			trimmed := strings.TrimLeft(c.pending, " \t\r\n")
			if strings.HasPrefix(trimmed, "[") {
				c.jsonHold = true
			}
		}

		if c.jsonHold {
			if !c.drainJSONHold(final) {
				return
			}
			continue
		}

		idx, marker := earliestMarker(c.pending)
		if idx >= 0 {
			c.emit(c.pending[:idx])
			c.pending = c.pending[idx+len(marker):]
			switch marker {
			case openThink:
				c.inThink = true
			case closeThink:
				c.inThink = false
			case openToolCalls, openToolCall:
				// Re-attach the delimiter so the detector sees the
				// complete island at Finish.
				c.pending = marker + c.pending
				c.suppress = true
			}
			continue
		}

		// No complete marker. Hold back a suffix that could still
		// become one; everything before it is safe to emit.
		hold := len(longestMarkerSuffix(c.pending))
		if final {
			hold = 0
		}
		c.emit(c.pending[:len(c.pending)-hold])
		c.pending = c.pending[len(c.pending)-hold:]
		return
	}
}

// drainJSONHold handles the held candidate JSON island. Returns true
// when the hold resolved and draining should continue, false when
// more input is needed.
func (c *Classifier) drainJSONHold(final bool) bool {
	start := strings.IndexByte(c.pending, '[')
	if start < 0 {
		// Only whitespace so far.
		if final {
			c.emit(c.pending)
			c.pending = ""
			c.jsonHold = false
		}
		return false
	}
	end, ok := matchBracket(c.pending, start)
	if !ok {
		if final {
			// Unbalanced at stream end: flush as content.
			c.emit(c.pending)
			c.pending = ""
			c.jsonHold = false
			return false
		}
		return false
	}

	candidate := c.pending[start : end+1]
	if _, parsed := callsFromJSONArray([]byte(candidate)); parsed {
		// Confirmed island: suppress from here on.
		c.suppress = true
		c.jsonHold = false
		return true
	}

	// Balanced but not a tool call: flush immediately.
	c.emit(c.pending[:end+1])
	c.pending = c.pending[end+1:]
	c.jsonHold = false
	return true
}

// drainThinking routes buffered thinking-field text, withholding
// possible tool-call islands the same way the content channel does.
func (c *Classifier) drainThinking(final bool) {
	for c.thinkPending != "" {
		if c.thinkSuppress {
			c.holdThinking(c.thinkPending)
			c.thinkPending = ""
			return
		}

		if !c.thinkStarted && !c.thinkJSONHold {
			trimmed := strings.TrimLeft(c.thinkPending, " \t\r\n")
			if strings.HasPrefix(trimmed, "[") {
				c.thinkJSONHold = true
			}
		}

		if c.thinkJSONHold {
			if !c.drainThinkingJSONHold(final) {
				return
			}
			continue
		}

		idx, marker := earliestMarker(c.thinkPending)
		if idx >= 0 {
			c.emitThinking(c.thinkPending[:idx])
			rest := c.thinkPending[idx+len(marker):]
			switch marker {
			case openToolCalls, openToolCall:
				c.thinkPending = marker + rest
				c.thinkSuppress = true
			default:
				// Think tags inside the thinking field have no
				// routing meaning; pass them through.
				c.emitThinking(marker)
				c.thinkPending = rest
			}
			continue
		}

		hold := len(longestMarkerSuffix(c.thinkPending))
		if final {
			hold = 0
		}
		c.emitThinking(c.thinkPending[:len(c.thinkPending)-hold])
		c.thinkPending = c.thinkPending[len(c.thinkPending)-hold:]
		return
	}
}

// drainThinkingJSONHold resolves a candidate JSON island on the
// thinking channel. Returns true when draining should continue.
func (c *Classifier) drainThinkingJSONHold(final bool) bool {
	start := strings.IndexByte(c.thinkPending, '[')
	if start < 0 {
		if final {
			c.emitThinking(c.thinkPending)
			c.thinkPending = ""
			c.thinkJSONHold = false
		}
		return false
	}
	end, ok := matchBracket(c.thinkPending, start)
	if !ok {
		if final {
			c.emitThinking(c.thinkPending)
			c.thinkPending = ""
			c.thinkJSONHold = false
		}
		return false
	}

	candidate := c.thinkPending[start : end+1]
	if _, parsed := callsFromJSONArray([]byte(candidate)); parsed {
		c.thinkSuppress = true
		c.thinkJSONHold = false
		return true
	}

	c.emitThinking(c.thinkPending[:end+1])
	c.thinkPending = c.thinkPending[end+1:]
	c.thinkJSONHold = false
	return true
}

// emitThinking publishes text on the thinking channel.
func (c *Classifier) emitThinking(text string) {
	if text == "" {
		return
	}
	c.thinkStarted = true
	c.thinking.WriteString(text)
	c.sink(events.Thinking(text))
}

// holdThinking records text on the thinking channel without
// publishing, keeping a copy for the caller to flush if detection
// comes up empty.
func (c *Classifier) holdThinking(text string) {
	if text == "" {
		return
	}
	c.thinkStarted = true
	c.thinking.WriteString(text)
	c.thinkHeld.WriteString(text)
}

// emit routes text to the active channel and publishes it.
func (c *Classifier) emit(text string) {
	c.route(text, true)
}

// route appends text to the active channel builder, optionally
// publishing an event. Suppressed or withheld text lands in held so
// the caller can flush it if detection comes up empty.
func (c *Classifier) route(text string, publish bool) {
	if text == "" {
		return
	}
	c.started = true
	if c.inThink {
		c.thinking.WriteString(text)
		if publish {
			c.sink(events.Thinking(text))
		}
		return
	}
	c.content.WriteString(text)
	if publish {
		c.sink(events.Content(text))
	} else {
		c.held.WriteString(text)
	}
}

// earliestMarker finds the first complete hold marker in text.
func earliestMarker(text string) (int, string) {
	best := -1
	var found string
	for _, m := range holdMarkers {
		if idx := strings.Index(text, m); idx >= 0 && (best < 0 || idx < best) {
			best = idx
			found = m
		}
	}
	return best, found
}

// longestMarkerSuffix returns the longest suffix of text that is a
// strict prefix of any hold marker.
func longestMarkerSuffix(text string) string {
	var longest string
	for _, m := range holdMarkers {
		max := len(m) - 1
		if max > len(text) {
			max = len(text)
		}
		for l := max; l > len(longest); l-- {
			if strings.HasSuffix(text, m[:l]) {
				longest = text[len(text)-l:]
				break
			}
		}
	}
	return longest
}

// CleanupThinking removes think-tag blocks and any stray unbalanced
// markers from text. Models occasionally emit a closing tag without
// its opener (or vice versa) when a stream is cut short.
func CleanupThinking(text string) string {
	for {
		start := strings.Index(text, openThink)
		if start < 0 {
			break
		}
		rest := text[start+len(openThink):]
		end := strings.Index(rest, closeThink)
		if end < 0 {
			text = text[:start]
			break
		}
		text = text[:start] + rest[end+len(closeThink):]
	}
	text = strings.ReplaceAll(text, openThink, "")
	text = strings.ReplaceAll(text, closeThink, "")
	return strings.TrimSpace(text)
}
