package generation

import (
	"strings"
	"time"

	"github.com/hupe1980/taskmesh/core"
)

// BufferOptions configures stream chunk coalescing.
type BufferOptions struct {
	// Window is how long adjacent chunks are accumulated before a combined
	// chunk is emitted (default 100ms).
	Window time.Duration
}

// BufferEvents coalesces adjacent content and reasoning chunks from a stream
// into larger chunks emitted at most once per window. Runs never mix: a
// reasoning chunk arriving on buffered content flushes the content first,
// and vice versa. Ordering is preserved: buffered chunks are always flushed
// before any non-chunk event passes through, and on stream termination.
// Lifecycle events are never buffered.
func BufferEvents(in <-chan core.StreamEvent, optFns ...func(o *BufferOptions)) <-chan core.StreamEvent {
	opts := BufferOptions{Window: 100 * time.Millisecond}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Window <= 0 {
		opts.Window = 100 * time.Millisecond
	}

	out := make(chan core.StreamEvent, 16)

	go func() {
		defer close(out)

		var buf strings.Builder
		reasoning := false
		timer := time.NewTimer(opts.Window)
		if !timer.Stop() {
			<-timer.C
		}
		timerActive := false

		flush := func() {
			if buf.Len() == 0 {
				return
			}
			if reasoning {
				out <- core.ReasoningChunkEvent{Content: buf.String()}
			} else {
				out <- core.ChunkEvent{Content: buf.String()}
			}
			buf.Reset()
		}
		stopTimer := func() {
			if timerActive && !timer.Stop() {
				<-timer.C
			}
			timerActive = false
		}
		buffer := func(content string, isReasoning bool) {
			if reasoning != isReasoning {
				flush()
				reasoning = isReasoning
			}
			buf.WriteString(content)
			if !timerActive {
				timer.Reset(opts.Window)
				timerActive = true
			}
		}

		for {
			select {
			case ev, ok := <-in:
				if !ok {
					stopTimer()
					flush()
					return
				}
				switch chunk := ev.(type) {
				case core.ChunkEvent:
					buffer(chunk.Content, false)
				case core.ReasoningChunkEvent:
					buffer(chunk.Content, true)
				default:
					stopTimer()
					flush()
					out <- ev
				}
			case <-timer.C:
				timerActive = false
				flush()
			}
		}
	}()

	return out
}
