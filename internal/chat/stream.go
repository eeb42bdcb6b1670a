package chat

import "strings"

// clientStream forwards chunks to the client until the first write error,
// then drops the rest so generation can finish.
type clientStream struct {
	sink Sink
	err  error
}

func newClientStream(sink Sink) *clientStream {
	return &clientStream{sink: sink}
}

func (c *clientStream) write(chunk string) error {
	if c.err != nil || c.sink == nil || chunk == "" {
		return nil
	}
	c.err = c.sink(chunk)
	return nil
}

// lineFilter buffers streamed text and passes each completed line through
// filter before emitting it. Excluded phrases never contain a newline, so
// filtering line by line leaves none behind.
type lineFilter struct {
	filter  func(string) string
	emit    func(string) error
	pending strings.Builder
	out     strings.Builder
}

func newLineFilter(filter func(string) string, emit func(string) error) *lineFilter {
	return &lineFilter{filter: filter, emit: emit}
}

func (l *lineFilter) write(delta string) error {
	l.pending.WriteString(delta)
	buf := l.pending.String()
	cut := strings.LastIndexByte(buf, '\n')
	if cut < 0 {
		return nil
	}
	l.pending.Reset()
	l.pending.WriteString(buf[cut+1:])

	var done strings.Builder
	for _, line := range strings.SplitAfter(buf[:cut+1], "\n") {
		if line == "" {
			continue
		}
		done.WriteString(l.filter(strings.TrimSuffix(line, "\n")))
		done.WriteByte('\n')
	}
	return l.flush(done.String())
}

func (l *lineFilter) flush(text string) error {
	l.out.WriteString(text)
	return l.emit(text)
}

// close emits the filtered tail and returns the full filtered text.
func (l *lineFilter) close() string {
	if l.pending.Len() > 0 {
		_ = l.flush(l.filter(l.pending.String()))
		l.pending.Reset()
	}
	return l.out.String()
}
