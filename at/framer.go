package at

// BufferSize is the capacity of the reply capture buffer. Bytes received
// after the buffer is full are dropped.
const BufferSize = 221

// Event is the outcome of feeding one byte to a Framer.
type Event int

const (
	EventNone       Event = iota
	EventComplete         // a reply terminated by "OK" was captured
	EventNewMessage       // a new-message notification carried a storage index
)

// Mode selects how a Framer interprets incoming bytes.
type Mode int

const (
	// ModeNotify matches NewMessagePrefix and captures the storage index.
	ModeNotify Mode = iota
	// ModeReply captures a solicited reply until "OK".
	ModeReply
)

// Framer frames modem output one byte at a time. It has no knowledge of
// time; a caller that stops receiving bytes is expected to abandon the
// frame with Abort.
//
// A Framer is not safe for concurrent use. The modem loop owns it.
type Framer struct {
	buf    [BufferSize]byte
	cursor int
	length int
	mode   Mode

	// reply mode
	capturing bool
	complete  bool
	overrun   bool

	// notify mode
	awaitIndex bool
	index      byte
}

// NewFramer returns a Framer listening for notifications.
func NewFramer() *Framer {
	return &Framer{}
}

// Mode reports the current mode.
func (f *Framer) Mode() Mode {
	return f.mode
}

// Begin switches to reply mode and clears the capture buffer. When
// captureAll is false, capture starts at the first '+'; otherwise every
// byte is captured, which suits commands answered by a bare "OK".
func (f *Framer) Begin(captureAll bool) {
	f.mode = ModeReply
	f.cursor = 0
	f.length = 0
	f.capturing = captureAll
	f.complete = false
	f.overrun = false
}

// Listen switches to notify mode. A partially matched prefix is discarded.
func (f *Framer) Listen() {
	f.mode = ModeNotify
	f.cursor = 0
	f.awaitIndex = false
}

// Abort ends the current reply without a terminator. Whatever was
// captured stays readable through Bytes until the next Begin.
func (f *Framer) Abort() {
	if f.mode == ModeReply && !f.complete {
		f.length = f.cursor
		f.complete = true
	}
	f.cursor = 0
}

// Feed consumes one received byte.
func (f *Framer) Feed(b byte) Event {
	if f.mode == ModeReply {
		return f.feedReply(b)
	}
	return f.feedNotify(b)
}

func (f *Framer) feedReply(b byte) Event {
	if f.complete {
		return EventNone
	}
	if !f.capturing {
		if b != '+' {
			return EventNone
		}
		f.capturing = true
	}
	if f.cursor >= BufferSize {
		f.overrun = true
		return EventNone
	}
	f.buf[f.cursor] = b
	f.cursor++
	if f.cursor >= 2 && f.buf[f.cursor-2] == 'O' && f.buf[f.cursor-1] == 'K' {
		f.length = f.cursor
		f.cursor = 0
		f.complete = true
		return EventComplete
	}
	return EventNone
}

func (f *Framer) feedNotify(b byte) Event {
	if f.awaitIndex {
		f.awaitIndex = false
		f.index = b
		f.cursor = 0
		return EventNewMessage
	}
	if b == '+' {
		f.cursor = 0
	}
	// Non-matching bytes leave the cursor where it is.
	if f.cursor < len(NewMessagePrefix) && b == NewMessagePrefix[f.cursor] {
		f.buf[f.cursor] = b
		f.cursor++
		if f.cursor == len(NewMessagePrefix) {
			f.awaitIndex = true
		}
	}
	return EventNone
}

// Complete reports whether the current reply has finished, either on "OK"
// or through Abort.
func (f *Framer) Complete() bool {
	return f.mode == ModeReply && f.complete
}

// Overrun reports whether bytes were dropped because the buffer was full.
func (f *Framer) Overrun() bool {
	return f.overrun
}

// Bytes returns the captured reply. Before completion it returns the bytes
// captured so far. The slice aliases the internal buffer.
func (f *Framer) Bytes() []byte {
	if f.complete {
		return f.buf[:f.length]
	}
	return f.buf[:f.cursor]
}

// MessageIndex returns the storage index of the last new-message
// notification.
func (f *Framer) MessageIndex() byte {
	return f.index
}
