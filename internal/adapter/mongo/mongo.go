// Package mongo implements the task store on MongoDB.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/LAAOUAFIFATIHA/taskstream/internal/adapter/metrics"
	"go.mongodb.org/mongo-driver/event"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const backendName = "mongo"

// Connect opens a client and verifies it against the primary. A nil m
// disables command metrics.
func Connect(ctx context.Context, uri string, m *metrics.StoreMetrics) (*mongo.Client, error) {
	opts := options.Client().ApplyURI(uri)
	if m != nil {
		opts.SetMonitor(commandMonitor(m))
	}

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	slog.Info("MongoDB connected")
	return client, nil
}

// commandMonitor feeds command round trips into the store metrics.
func commandMonitor(m *metrics.StoreMetrics) *event.CommandMonitor {
	return &event.CommandMonitor{
		Succeeded: func(_ context.Context, e *event.CommandSucceededEvent) {
			m.Observe(backendName, e.CommandName, e.Duration.Seconds(), nil)
		},
		Failed: func(_ context.Context, e *event.CommandFailedEvent) {
			m.Observe(backendName, e.CommandName, e.Duration.Seconds(), errors.New(e.Failure))
		},
	}
}
