package scheduler

import (
	"sort"

	"github.com/hibiken/asynq"

	"sharepipe/internal/config"
)

// QueueDepth reports the backlog of one priority queue.
type QueueDepth struct {
	Queue     string `json:"queue"`
	Weight    int    `json:"weight"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Scheduled int    `json:"scheduled"`
	Retry     int    `json:"retry"`
}

// Inspector reads queue backlogs for the status surface.
type Inspector struct {
	inspector *asynq.Inspector
	cfg       *config.Config
}

// NewInspector constructs a read-only queue inspector.
func NewInspector(cfg *config.Config) *Inspector {
	return &Inspector{
		inspector: asynq.NewInspector(RedisOpt(cfg)),
		cfg:       cfg,
	}
}

// Depths returns the backlog of every configured queue, sorted by name.
// Queues asynq has not seen yet report zero rather than an error.
func (i *Inspector) Depths() ([]QueueDepth, error) {
	queues := Queues(i.cfg)
	depths := make([]QueueDepth, 0, len(queues))
	for queue, weight := range queues {
		depth := QueueDepth{Queue: queue, Weight: weight}
		info, err := i.inspector.GetQueueInfo(queue)
		if err == nil {
			depth.Pending = info.Pending
			depth.Active = info.Active
			depth.Scheduled = info.Scheduled
			depth.Retry = info.Retry
		}
		depths = append(depths, depth)
	}
	sort.Slice(depths, func(a, b int) bool { return depths[a].Queue < depths[b].Queue })
	return depths, nil
}

// Close releases the inspector's connection.
func (i *Inspector) Close() error {
	return i.inspector.Close()
}
