package h5p

import (
	"context"
	"log/slog"
)

// NoopEventSink is a no-operation implementation of EventSink
type NoopEventSink struct{}

// NewNoopEventSink creates a new no-operation event sink
func NewNoopEventSink() EventSink {
	return &NoopEventSink{}
}

func (n *NoopEventSink) LibrarySaved(ctx context.Context, lib *Library, isNew bool) error {
	return nil
}

func (n *NoopEventSink) ContentSaved(ctx context.Context, content *Content) error {
	return nil
}

func (n *NoopEventSink) ContentDeleted(ctx context.Context, contentID int64) error {
	return nil
}

func (n *NoopEventSink) ExportCreated(ctx context.Context, content *Content, name string) error {
	return nil
}

// LoggingEventSink writes every event to a slog.Logger.
type LoggingEventSink struct {
	logger *slog.Logger
}

// NewLoggingEventSink logs events to logger, or slog.Default() when nil.
func NewLoggingEventSink(logger *slog.Logger) EventSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingEventSink{logger: logger}
}

func (s *LoggingEventSink) LibrarySaved(ctx context.Context, lib *Library, isNew bool) error {
	s.logger.InfoContext(ctx, "H5P library saved", "library", lib.String(), "patch", lib.PatchVersion, "new", isNew)
	return nil
}

func (s *LoggingEventSink) ContentSaved(ctx context.Context, content *Content) error {
	s.logger.InfoContext(ctx, "H5P content saved", "content_id", content.ID, "title", content.Title)
	return nil
}

func (s *LoggingEventSink) ContentDeleted(ctx context.Context, contentID int64) error {
	s.logger.InfoContext(ctx, "H5P content deleted", "content_id", contentID)
	return nil
}

func (s *LoggingEventSink) ExportCreated(ctx context.Context, content *Content, name string) error {
	s.logger.InfoContext(ctx, "H5P export created", "content_id", content.ID, "file", name)
	return nil
}
