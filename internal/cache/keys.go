package cache

import "fmt"

// ResultKey caches the serialized result_json of a finished job.
func ResultKey(jobID string) string {
	return fmt.Sprintf("productlens:result:%s", jobID)
}

func RateLimitKey(clientID string) string {
	return fmt.Sprintf("productlens:ratelimit:%s", clientID)
}

func QueueKey(name string) string {
	return fmt.Sprintf("productlens:queue:%s", name)
}
