package poolutils

import "github.com/launchdarkly/go-jsonstream/v3/jwriter"

// Statistics counts the lifecycle events of the native pools handled by a single recycler
type Statistics struct {
	// Created is the number of native pools created by the driver
	Created int
	// Reused is the number of times a recycled pool satisfied a request
	Reused int
	// Recycled is the number of pools that were reset and made available again
	Recycled int
	// Trimmed is the number of resets that released resources back to the driver
	Trimmed int
	// Dropped is the number of pools destroyed because the recycled list had no room
	Dropped int
	// Destroyed is the number of native pools destroyed for any reason
	Destroyed int
	// Idle is the number of pools currently waiting in the recycled list
	Idle int
}

func (s *Statistics) Clear() {
	s.Created = 0
	s.Reused = 0
	s.Recycled = 0
	s.Trimmed = 0
	s.Dropped = 0
	s.Destroyed = 0
	s.Idle = 0
}

func (s *Statistics) AddStatistics(other *Statistics) {
	s.Created += other.Created
	s.Reused += other.Reused
	s.Recycled += other.Recycled
	s.Trimmed += other.Trimmed
	s.Dropped += other.Dropped
	s.Destroyed += other.Destroyed
	s.Idle += other.Idle
}

// Live is the number of native pools that have been created and not yet destroyed
func (s *Statistics) Live() int {
	return s.Created - s.Destroyed
}

func (s *Statistics) PrintJSON(json *jwriter.ObjectState) {
	json.Name("Created").Int(s.Created)
	json.Name("Reused").Int(s.Reused)
	json.Name("Recycled").Int(s.Recycled)
	json.Name("Trimmed").Int(s.Trimmed)
	json.Name("Dropped").Int(s.Dropped)
	json.Name("Destroyed").Int(s.Destroyed)
	json.Name("Idle").Int(s.Idle)
	json.Name("Live").Int(s.Live())
}
