package cache

import (
	"context"
	"log/slog"
	"time"
)

// Op names a cache operation in logs, metrics and failure reports.
type Op string

const (
	OpFetchPage     Op = "fetch_page"
	OpFetchThread   Op = "fetch_thread"
	OpMemberThreads Op = "member_threads"
	OpSend          Op = "send"
	OpReact         Op = "react"
	OpEdit          Op = "edit"
	OpRemote        Op = "remote"
	OpRestore       Op = "restore"
)

// Failure describes a store call that failed. RolledBack is set when an
// optimistic write was undone; read failures leave it false.
type Failure struct {
	Op         Op
	RoomID     string
	MessageID  string
	UserID     string
	Err        error
	RolledBack bool
	At         time.Time
}

// Reporter receives store failures. Implementations must not block.
type Reporter interface {
	ReportFailure(ctx context.Context, f Failure)
}

// LogReporter writes failures to a structured logger.
type LogReporter struct {
	Logger *slog.Logger
}

func (l LogReporter) ReportFailure(ctx context.Context, f Failure) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	msg := "optimistic write failed"
	if !f.RolledBack {
		msg = "store read failed"
	}
	logger.ErrorContext(ctx, msg,
		"op", string(f.Op),
		"room_id", f.RoomID,
		"message_id", f.MessageID,
		"rolled_back", f.RolledBack,
		"err", f.Err,
	)
}
