package mqtt

import "go.uber.org/zap"

// pendingMsg stores a serialized MQTT message for replay after reconnection.
type pendingMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// outbox is a fixed-capacity FIFO that holds messages while disconnected.
// When full the oldest message is overwritten.
// Not safe for concurrent use; the caller must synchronize.
type outbox struct {
	buf     []pendingMsg
	head    int // next write position
	count   int
	dropped int // messages overwritten since last flush
	logger  *zap.SugaredLogger
}

func newOutbox(capacity int, logger *zap.SugaredLogger) *outbox {
	if capacity < 1 {
		capacity = 1
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &outbox{
		buf:    make([]pendingMsg, capacity),
		logger: logger,
	}
}

func (o *outbox) add(msg pendingMsg) {
	capacity := len(o.buf)
	if o.count == capacity {
		if o.dropped == 0 {
			o.logger.Warnw("outbox full, dropping oldest", "capacity", capacity)
		}
		o.dropped++
		// head already points at the oldest entry
		o.buf[o.head] = msg
		o.head = (o.head + 1) % capacity
		return
	}
	o.buf[o.head] = msg
	o.head = (o.head + 1) % capacity
	o.count++
}

// flush returns the held messages oldest first and empties the outbox.
func (o *outbox) flush() []pendingMsg {
	if o.count == 0 {
		return nil
	}

	capacity := len(o.buf)
	out := make([]pendingMsg, o.count)
	start := (o.head - o.count + capacity) % capacity
	for i := range out {
		out[i] = o.buf[(start+i)%capacity]
	}

	if o.dropped > 0 {
		o.logger.Warnw("outbox overflowed while disconnected", "dropped", o.dropped)
	}
	o.count = 0
	o.head = 0
	o.dropped = 0
	return out
}

func (o *outbox) size() int {
	return o.count
}
