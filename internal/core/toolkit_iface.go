package core

import "github.com/dkeye/VideoLaunch/internal/domain"

// Toolkit is the external conferencing library. Only these three entry points
// are relied upon; rendering, devices and media belong to the toolkit.
type Toolkit interface {
	// JoinSession renders the session into container. A nil error means the
	// toolkit reports the session ready.
	JoinSession(container string, cfg domain.SessionConfig) error
	CloseSession(container string) error
	// OnSessionClosed replaces the close callback; the toolkit keeps one.
	OnSessionClosed(func())
}

// PreJoinView is the page surface outside the session container.
type PreJoinView interface {
	SetPreJoinVisible(visible bool)
	ShowError(err error)
}
