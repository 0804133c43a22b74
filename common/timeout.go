package common

import "time"

// TimeoutSettings holds information on timeout settings. Settings chain
// to a parent: a value not set locally is looked up on the parent, down
// to the package defaults.
type TimeoutSettings struct {
	parent                   *TimeoutSettings
	defaultTimeout           *time.Duration
	defaultNavigationTimeout *time.Duration
	defaultSwapGraceWindow   *time.Duration
}

// NewTimeoutSettings creates a new timeout settings object.
func NewTimeoutSettings(parent *TimeoutSettings) *TimeoutSettings {
	t := &TimeoutSettings{
		parent:                   parent,
		defaultTimeout:           nil,
		defaultNavigationTimeout: nil,
		defaultSwapGraceWindow:   nil,
	}
	return t
}

// SetDefaultTimeout sets the default timeout.
func (t *TimeoutSettings) SetDefaultTimeout(timeout time.Duration) {
	t.defaultTimeout = &timeout
}

// SetDefaultNavigationTimeout sets the default navigation timeout.
func (t *TimeoutSettings) SetDefaultNavigationTimeout(timeout time.Duration) {
	t.defaultNavigationTimeout = &timeout
}

// SetDefaultSwapGraceWindow sets how long a frame survives its session
// disconnecting before it is removed.
func (t *TimeoutSettings) SetDefaultSwapGraceWindow(window time.Duration) {
	t.defaultSwapGraceWindow = &window
}

func (t *TimeoutSettings) navigationTimeout() time.Duration {
	if t.defaultNavigationTimeout != nil {
		return *t.defaultNavigationTimeout
	}
	if t.defaultTimeout != nil {
		return *t.defaultTimeout
	}
	if t.parent != nil {
		return t.parent.navigationTimeout()
	}
	return DefaultTimeout
}

func (t *TimeoutSettings) timeout() time.Duration {
	if t.defaultTimeout != nil {
		return *t.defaultTimeout
	}
	if t.parent != nil {
		return t.parent.timeout()
	}
	return DefaultTimeout
}

func (t *TimeoutSettings) swapGraceWindow() time.Duration {
	if t.defaultSwapGraceWindow != nil {
		return *t.defaultSwapGraceWindow
	}
	if t.parent != nil {
		return t.parent.swapGraceWindow()
	}
	return DefaultSwapGraceWindow
}
