package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// AssessmentKey returns the cache key for a catalog assessment
func (r *CacheKeyStruct) AssessmentKey(assessmentID string) string {
	return fmt.Sprintf("assessment:%s", assessmentID)
}

// QuestionKey returns the cache key for a catalog question
func (r *CacheKeyStruct) QuestionKey(questionID string) string {
	return fmt.Sprintf("question:%s", questionID)
}

// AttemptDraftsKey returns the hash holding autosaved answers of an attempt
func (r *CacheKeyStruct) AttemptDraftsKey(attemptID string) string {
	return fmt.Sprintf("attempt:%s:drafts", attemptID)
}

// AttemptCompletedKey returns the marker of an attempt that was submitted
func (r *CacheKeyStruct) AttemptCompletedKey(attemptID string) string {
	return fmt.Sprintf("attempt:%s:completed", attemptID)
}

// AssessmentMonitorChannel returns the Redis PubSub channel for an assessment's live violations
func (r *CacheKeyStruct) AssessmentMonitorChannel(assessmentID string) string {
	return fmt.Sprintf("assessment:%s:monitor", assessmentID)
}

var CacheKey = NewCacheKeyStruct()
