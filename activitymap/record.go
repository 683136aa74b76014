// Package activitymap flattens account activity into records suited for
// audit logs and event pipelines.
package activitymap

import (
	"context"
	"log/slog"
	"maps"
	"strings"
	"time"

	"github.com/ovigia/authd"
)

const (
	KeyActorType  = "actor_type"
	KeyFromStatus = "from_status"
	KeyToStatus   = "to_status"
)

const (
	defaultChannel = "authd"
	defaultObject  = "user"
	defaultActor   = "system"
)

// Record is the flat form of an auth.ActivityEvent
type Record struct {
	ActorID    string         `json:"actor_id"`
	Verb       string         `json:"verb"`
	ObjectType string         `json:"object_type,omitempty"`
	ObjectID   string         `json:"object_id,omitempty"`
	Channel    string         `json:"channel,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

type Option func(*options)

type options struct {
	channel    string
	objectType string
	now        func() time.Time
}

func WithChannel(channel string) Option {
	return func(o *options) {
		if channel = strings.TrimSpace(channel); channel != "" {
			o.channel = channel
		}
	}
}

func WithObjectType(objectType string) Option {
	return func(o *options) {
		if objectType = strings.TrimSpace(objectType); objectType != "" {
			o.objectType = objectType
		}
	}
}

func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		if clock != nil {
			o.now = clock
		}
	}
}

func resolve(opts []Option) options {
	o := options{channel: defaultChannel, objectType: defaultObject, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// Normalize flattens event. The actor falls back to the affected user and
// then to "system"; status changes and the actor type move into metadata.
func Normalize(event auth.ActivityEvent, opts ...Option) Record {
	return normalize(event, resolve(opts))
}

func normalize(event auth.ActivityEvent, o options) Record {
	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = o.now()
	}

	return Record{
		ActorID:    firstNonEmpty(strings.TrimSpace(event.Actor.ID), strings.TrimSpace(event.UserID), defaultActor),
		Verb:       string(event.EventType),
		ObjectType: o.objectType,
		ObjectID:   strings.TrimSpace(event.UserID),
		Channel:    o.channel,
		Metadata:   metadata(event),
		OccurredAt: occurredAt.UTC(),
	}
}

func metadata(event auth.ActivityEvent) map[string]any {
	out := maps.Clone(event.Metadata)
	set := func(key string, value string, overwrite bool) {
		if value == "" {
			return
		}
		if out == nil {
			out = map[string]any{}
		}
		if _, exists := out[key]; exists && !overwrite {
			return
		}
		out[key] = value
	}

	set(KeyActorType, strings.TrimSpace(event.Actor.Type), false)
	set(KeyFromStatus, string(event.FromStatus), true)
	set(KeyToStatus, string(event.ToStatus), true)

	if len(out) == 0 {
		return nil
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// SlogSink writes every event as one structured "activity" log line
func SlogSink(logger *slog.Logger, opts ...Option) auth.ActivitySink {
	if logger == nil {
		logger = slog.Default()
	}
	o := resolve(opts)

	return auth.ActivitySinkFunc(func(ctx context.Context, event auth.ActivityEvent) error {
		r := normalize(event, o)
		attrs := []slog.Attr{
			slog.String("verb", r.Verb),
			slog.String("actor_id", r.ActorID),
			slog.String("object_type", r.ObjectType),
			slog.String("object_id", r.ObjectID),
			slog.String("channel", r.Channel),
			slog.Time("occurred_at", r.OccurredAt),
		}
		if len(r.Metadata) > 0 {
			attrs = append(attrs, slog.Any("metadata", r.Metadata))
		}
		logger.LogAttrs(ctx, slog.LevelInfo, "activity", attrs...)
		return nil
	})
}
