package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// AttemptPresenceKey returns the hash holding an attempt's last heartbeat
func (r *CacheKeyStruct) AttemptPresenceKey(attemptID string) string {
	return fmt.Sprintf("attempt:%s:presence", attemptID)
}

// QuizAnswerKeyKey returns the cache key for a quiz's answer key
func (r *CacheKeyStruct) QuizAnswerKeyKey(quizID string) string {
	return fmt.Sprintf("quiz:%s:answer_key", quizID)
}

// BatchMonitorChannel returns the Redis PubSub channel name for a batch monitor
func (r *CacheKeyStruct) BatchMonitorChannel(batchID string) string {
	return fmt.Sprintf("batch:%s:monitor", batchID)
}

var CacheKey = NewCacheKeyStruct()
