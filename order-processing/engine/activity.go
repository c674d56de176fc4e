package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"go.temporal.io/sdk/log"
)

// ActivityFunc is the untyped form of a registered activity
type ActivityFunc func(ctx context.Context, input json.RawMessage) (any, error)

// Activity adapts a typed activity function to an ActivityFunc
func Activity[I, O any](fn func(context.Context, I) (O, error)) ActivityFunc {
	return func(ctx context.Context, input json.RawMessage) (any, error) {
		var in I
		if len(input) > 0 {
			if err := json.Unmarshal(input, &in); err != nil {
				return nil, fmt.Errorf("decode activity input: %w", err)
			}
		}
		return fn(ctx, in)
	}
}

// ActivityNoResult adapts a typed activity that returns only an error
func ActivityNoResult[I any](fn func(context.Context, I) error) ActivityFunc {
	return Activity(func(ctx context.Context, in I) (struct{}, error) {
		return struct{}{}, fn(ctx, in)
	})
}

// ActivityInfo describes the attempt an activity is running in
type ActivityInfo struct {
	WorkflowID string
	Activity   string
	Attempt    int
	Command    int
}

type activityInfoKey struct{}
type loggerKey struct{}

// GetActivityInfo returns the attempt information of an activity context
func GetActivityInfo(ctx context.Context) (ActivityInfo, bool) {
	info, ok := ctx.Value(activityInfoKey{}).(ActivityInfo)
	return info, ok
}

// GetLogger returns the logger the engine attached to an activity context.
// It returns nil outside engine activities.
func GetLogger(ctx context.Context) log.Logger {
	logger, _ := ctx.Value(loggerKey{}).(log.Logger)
	return logger
}

func activityContext(ctx context.Context, info ActivityInfo, logger log.Logger) context.Context {
	ctx = context.WithValue(ctx, activityInfoKey{}, info)
	return context.WithValue(ctx, loggerKey{}, log.With(logger,
		"WorkflowID", info.WorkflowID,
		"Activity", info.Activity,
		"Attempt", info.Attempt,
	))
}
