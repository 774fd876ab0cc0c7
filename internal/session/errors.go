// Package session — common error values returned by the controller, kept
// here so callers can branch on them with errors.Is.
package session

import "errors"

var (
	// ErrNoRoom is returned by Send when no chat room is currently bound.
	// The send is rejected outright; nothing is appended to the timeline.
	ErrNoRoom = errors.New("no chat room bound")

	// ErrClosed is returned by operations invoked after Close.
	ErrClosed = errors.New("session closed")

	// ErrRoomResolution indicates the room for an engagement could not be
	// resolved. The session stays unbound and usable; binding can be retried.
	ErrRoomResolution = errors.New("could not resolve chat room")
)
