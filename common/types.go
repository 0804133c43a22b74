package common

import (
	"fmt"
	"time"
)

// BlankPage represents a blank page.
const BlankPage = "about:blank"

// LifecycleEvent is a load state of a frame's document.
type LifecycleEvent int

const (
	// LifecycleEventLoad is emitted when the document and its resources
	// have finished loading.
	LifecycleEventLoad LifecycleEvent = iota

	// LifecycleEventDOMContentLoad is emitted when the document has been
	// parsed, without waiting for resources.
	LifecycleEventDOMContentLoad

	// LifecycleEventNetworkIdle is emitted when there are no network
	// connections for at least 500ms.
	LifecycleEventNetworkIdle
)

func (l LifecycleEvent) String() string {
	return lifecycleEventToString[l]
}

var lifecycleEventToString = map[LifecycleEvent]string{
	LifecycleEventLoad:           "load",
	LifecycleEventDOMContentLoad: "domcontentloaded",
	LifecycleEventNetworkIdle:    "networkidle",
}

var lifecycleEventToID = map[string]LifecycleEvent{
	"load":             LifecycleEventLoad,
	"DOMContentLoaded": LifecycleEventDOMContentLoad,
	"networkIdle":      LifecycleEventNetworkIdle,
}

// MarshalText returns the string representation of the lifecycle event.
func (l LifecycleEvent) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText parses a lifecycle event from its string representation.
func (l *LifecycleEvent) UnmarshalText(b []byte) error {
	v, ok := lifecycleEventToID[string(b)]
	if !ok {
		return fmt.Errorf("unknown lifecycle event: %q", b)
	}
	*l = v
	return nil
}

// FrameLifecycleEvent is emitted when a frame lifecycle event occurs.
type FrameLifecycleEvent struct {
	// URL is the URL of the frame that emitted the event.
	URL string

	// Event is the lifecycle event that occurred.
	Event LifecycleEvent
}

// DocumentInfo tracks a document (one loader) of a frame. A frame has a
// current document and, while a navigation is in flight, a pending one.
type DocumentInfo struct {
	documentID string
	url        string
}

// FrameGotoOptions are the options for FrameManager.NavigateFrame.
type FrameGotoOptions struct {
	Referer   string
	Timeout   time.Duration // zero means the default navigation timeout
	WaitUntil LifecycleEvent
}
