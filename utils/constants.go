package utils

import "time"

const (
	// FrameRate is the lockstep frame rate in frames per second.
	FrameRate = 30

	// FramePeriod is the real-time duration of one frame.
	FramePeriod = time.Second / FrameRate

	// PastHorizonFrames is the distance between the past horizon and the
	// present frame. The present frame is always horizon + PastHorizonFrames.
	PastHorizonFrames = FrameRate / 2 // 15

	// FutureHorizonFrames is how far past the present frame a client may
	// stamp an event.
	FutureHorizonFrames = 3 * FrameRate / 2 // 45

	// InactivityTimeout disconnects a live controller that has sent no valid
	// frame or command.
	InactivityTimeout = 5 * time.Second

	// HashSyncInterval is the default interval, in frames, between hash-sync
	// notices.
	HashSyncInterval = 5 * FrameRate // 150

	// FrameNoticeInterval is the default interval, in frames, between plain
	// frame-advance notices.
	FrameNoticeInterval = FrameRate / 4 // 7

	// MaxMessageBytes caps a single inbound websocket message.
	MaxMessageBytes = 20000

	// MaxConfigBytes caps a user's opaque config string.
	MaxConfigBytes = 10000

	// ChatTokenMax is the chat token bucket size per controller.
	ChatTokenMax = 5

	// ChatTokenRefill is the replenishment delay for one spent chat token.
	ChatTokenRefill = 2 * time.Second

	// ChatMessageMax caps a single chat message in bytes.
	ChatMessageMax = 1000
)
