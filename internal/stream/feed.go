package stream

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"sync"
)

// feedBoundary separates JPEG parts in the multipart/x-mixed-replace body.
const feedBoundary = "frame"

// Feed fans JPEG frames out to MJPEG viewers. Every viewer has its own
// one-frame buffer; a slow viewer skips frames instead of stalling the
// publisher. Published frames are never modified after Publish.
type Feed struct {
	mu      sync.Mutex
	clients map[chan []byte]struct{}
	latest  []byte
	closed  bool
	done    chan struct{}
}

// NewFeed returns an open Feed.
func NewFeed() *Feed {
	return &Feed{
		clients: make(map[chan []byte]struct{}),
		done:    make(chan struct{}),
	}
}

// Publish sends a copy of jpeg to every viewer, replacing any frame the
// viewer has not written yet.
func (f *Feed) Publish(jpeg []byte) {
	frame := bytes.Clone(jpeg)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.latest = frame
	for ch := range f.clients {
		offer(ch, frame)
	}
}

// offer replaces the pending frame of ch. Only Publish sends, under f.mu.
func offer(ch chan []byte, frame []byte) {
	select {
	case <-ch:
	default:
	}
	ch <- frame
}

// Clients returns the number of connected viewers.
func (f *Feed) Clients() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

// Close ends every viewer. Later Publish calls are dropped.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	close(f.done)
	clear(f.clients)
}

func (f *Feed) subscribe() (chan []byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, false
	}
	ch := make(chan []byte, 1)
	if f.latest != nil {
		ch <- f.latest
	}
	f.clients[ch] = struct{}{}
	return ch, true
}

func (f *Feed) unsubscribe(ch chan []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.clients, ch)
}

// ServeHTTP streams frames until the request context is done, the feed is
// closed or a write fails.
func (f *Feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ch, ok := f.subscribe()
	if !ok {
		http.Error(w, "Video stream not available", http.StatusServiceUnavailable)
		return
	}
	defer f.unsubscribe(ch)

	mw := multipart.NewWriter(w)
	if err := mw.SetBoundary(feedBoundary); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+feedBoundary)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	if flusher != nil {
		flusher.Flush()
	}

	header := textproto.MIMEHeader{}
	header.Set("Content-Type", "image/jpeg")
	for {
		select {
		case <-r.Context().Done():
			return
		case <-f.done:
			return
		case frame := <-ch:
			header.Set("Content-Length", strconv.Itoa(len(frame)))
			part, err := mw.CreatePart(header)
			if err != nil {
				return
			}
			if _, err := part.Write(frame); err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
}
