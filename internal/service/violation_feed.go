package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/model"
)

// ViolationEvent is the message published for each closed focus-loss interval.
type ViolationEvent struct {
	model.Violation
	Severity model.Severity `json:"severity"`
}

// ViolationFeed publishes violations to the assessment's monitor channel.
type ViolationFeed struct {
	rdb *redis.Client
}

// NewViolationFeed creates a new ViolationFeed.
func NewViolationFeed(rdb *redis.Client) *ViolationFeed {
	return &ViolationFeed{rdb: rdb}
}

// PublishViolation broadcasts a closed violation with its severity on the assessment's monitor channel.
func (f *ViolationFeed) PublishViolation(ctx context.Context, v *model.Violation) error {
	data, err := json.Marshal(ViolationEvent{Violation: *v, Severity: v.Severity()})
	if err != nil {
		return fmt.Errorf("marshal violation: %w", err)
	}
	channel := config.CacheKey.AssessmentMonitorChannel(v.AssessmentID.String())
	return f.rdb.Publish(ctx, channel, data).Err()
}
