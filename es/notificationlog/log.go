// Package notificationlog paginates an application's total event order for
// downstream consumers.
//
// Sections are stateless and re-derivable from their "first,last" id pair;
// the log holds no read position. Consumers track their own cursor, which
// for a process application is the durable max tracking id.
package notificationlog

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/getpup/pupflow/es"
	"github.com/getpup/pupflow/es/recorder"
)

// ErrInvalidSectionID indicates a section id that is not "<first>,<last>".
var ErrInvalidSectionID = errors.New("invalid section id")

// DefaultSectionSize is the page size used when none is configured.
const DefaultSectionSize = 10

// Section is one bounded page of the notification log.
type Section struct {
	// ID is the requested "first,last" pair
	ID string

	// Items are the notifications of this section, in id order
	Items []es.Notification

	// NextID is the id of the following section, empty when this
	// section was not full - the consumer has reached the current end.
	NextID string
}

// Log paginates the notifications of one application.
type Log struct {
	recorder    recorder.ApplicationRecorder
	sectionSize int
}

// Option is a functional option for configuring a Log.
type Option func(*Log)

// WithSectionSize sets the page size.
func WithSectionSize(size int) Option {
	return func(l *Log) {
		l.sectionSize = size
	}
}

// New creates a notification log over the given recorder.
func New(rec recorder.ApplicationRecorder, opts ...Option) *Log {
	l := &Log{recorder: rec, sectionSize: DefaultSectionSize}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// SectionSize reports the configured page size.
func (l *Log) SectionSize() int {
	return l.sectionSize
}

// Section resolves one page of the log. The section id has the form
// "<first>,<last>"; the returned section contains the stored notifications
// with ids in [max(1,first), first+limit-1] where limit is bounded by the
// section size.
func (l *Log) Section(ctx context.Context, sectionID string) (Section, error) {
	first, last, err := ParseSectionID(sectionID)
	if err != nil {
		return Section{}, err
	}

	start := first
	if start < 1 {
		start = 1
	}
	limit := l.sectionSize
	if span := int(last - start + 1); span < limit {
		limit = span
	}
	if limit <= 0 {
		return Section{ID: sectionID}, nil
	}

	items, err := l.recorder.SelectNotifications(ctx, start, limit)
	if err != nil {
		return Section{}, fmt.Errorf("failed to select notifications: %w", err)
	}

	section := Section{ID: sectionID, Items: items}
	// Only a full page has a successor; a short page means the consumer
	// has caught up with the head of the log.
	if len(items) == limit {
		lastID := items[len(items)-1].ID
		section.NextID = FormatSectionID(lastID+1, lastID+int64(limit))
	}
	return section, nil
}

// FormatSectionID builds a "<first>,<last>" section id.
func FormatSectionID(first, last int64) string {
	return fmt.Sprintf("%d,%d", first, last)
}

// ParseSectionID splits a "<first>,<last>" pair.
func ParseSectionID(sectionID string) (first, last int64, err error) {
	parts := strings.Split(sectionID, ",")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidSectionID, sectionID)
	}
	first, err = strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidSectionID, sectionID)
	}
	last, err = strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidSectionID, sectionID)
	}
	return first, last, nil
}

// Reader walks a notification log section by section from a start id.
// It is a convenience for consumers that are not process applications.
type Reader struct {
	log *Log
}

// NewReader creates a reader over the given log.
func NewReader(log *Log) *Reader {
	return &Reader{log: log}
}

// Read returns all notifications with id > after that are currently in
// the log, in id order.
func (r *Reader) Read(ctx context.Context, after int64) ([]es.Notification, error) {
	var out []es.Notification
	size := int64(r.log.SectionSize())
	sectionID := FormatSectionID(after+1, after+size)

	for sectionID != "" {
		section, err := r.log.Section(ctx, sectionID)
		if err != nil {
			return nil, err
		}
		out = append(out, section.Items...)
		sectionID = section.NextID
	}
	return out, nil
}
