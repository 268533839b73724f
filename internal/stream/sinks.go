package stream

// ProgressSink publishes playback progress for one message.
type ProgressSink struct {
	b  *Broadcaster
	id string
}

// Progress returns a sink that tags progress events with message id.
func (b *Broadcaster) Progress(id string) *ProgressSink {
	return &ProgressSink{b: b, id: id}
}

func (s *ProgressSink) SetProgress(percent int) {
	s.b.Publish(Event{Type: EventProgress, ID: s.id, Value: percent})
}

// VolumeFeed queues microphone updates on the source channel of a
// Broadcaster.Run loop, so the sampler never waits on listener fan-out.
// Levels are dropped while the queue is full; clear and visibility
// updates wait for room until done is closed.
type VolumeFeed struct {
	ch   chan<- Event
	done <-chan struct{}
}

// NewVolumeFeed returns a feed into ch. The caller drains ch with Run.
func NewVolumeFeed(ch chan<- Event, done <-chan struct{}) VolumeFeed {
	return VolumeFeed{ch: ch, done: done}
}

func (f VolumeFeed) SetVolumeLevel(level int) {
	select {
	case f.ch <- Event{Type: EventVolume, Value: level}:
	default:
	}
}

func (f VolumeFeed) ClearVolume() {
	f.send(Event{Type: EventVolumeClear})
}

func (f VolumeFeed) SetVisible(visible bool) {
	v := 0
	if visible {
		v = 1
	}
	f.send(Event{Type: EventVolumeVisible, Value: v})
}

func (f VolumeFeed) send(e Event) {
	select {
	case f.ch <- e:
	case <-f.done:
	}
}

// Notifier publishes user-visible notices.
type Notifier struct{ b *Broadcaster }

// Notices returns the broadcaster's notifier.
func (b *Broadcaster) Notices() Notifier { return Notifier{b: b} }

func (n Notifier) Notify(msg string) {
	n.b.Publish(Event{Type: EventNotice, Text: msg})
}
