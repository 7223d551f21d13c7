package store

import (
	"encoding/json"
	"log"
	"sync"
	"time"
)

// Recorder buffers step records for one session and writes them to the
// store in batches. Inserts are synchronous: at interactive frame rates a
// local SQLite batch insert is far cheaper than one tick.
type Recorder struct {
	store     *Store
	sessionID string
	flushSize int

	mu     sync.Mutex
	buffer []StepRecord
}

// NewRecorder creates a recorder. flushSize controls how many steps are
// buffered before a batch insert.
func NewRecorder(store *Store, sessionID string, flushSize int) *Recorder {
	if flushSize <= 0 {
		flushSize = 50
	}
	return &Recorder{
		store:     store,
		sessionID: sessionID,
		flushSize: flushSize,
		buffer:    make([]StepRecord, 0, flushSize),
	}
}

// RecordStep buffers one step, flushing when the buffer is full.
func (r *Recorder) RecordStep(episodeNum, stepNum int, actions map[string]any, rewards map[string]float64, latency time.Duration) {
	actionsJSON := mustJSON(actions)
	rewardsJSON := mustJSON(rewards)

	r.mu.Lock()
	defer r.mu.Unlock()

	r.buffer = append(r.buffer, StepRecord{
		SessionID:   r.sessionID,
		EpisodeNum:  episodeNum,
		StepNum:     stepNum,
		ActionsJSON: actionsJSON,
		RewardsJSON: rewardsJSON,
		LatencyMs:   float64(latency.Microseconds()) / 1000,
	})
	if len(r.buffer) >= r.flushSize {
		r.flushLocked()
	}
}

// Flush writes any buffered steps to the store.
func (r *Recorder) Flush() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushLocked()
}

func (r *Recorder) flushLocked() {
	if len(r.buffer) == 0 {
		return
	}
	batch := make([]StepRecord, len(r.buffer))
	copy(batch, r.buffer)
	r.buffer = r.buffer[:0]

	if err := r.store.InsertStepsBatch(batch); err != nil {
		log.Printf("[store] flush steps: %v", err)
	}
}

func mustJSON(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(raw)
}
