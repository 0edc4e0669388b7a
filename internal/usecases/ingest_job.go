package usecases

import (
	"context"
	"sync"

	"github.com/abelzeko/sensor-archive/internal/entities"
)

// JobState is the phase an ingestion job is in
type JobState string

const (
	JobIdle               JobState = "idle"
	JobCheckingConnection JobState = "checking_connection"
	JobSearchingType      JobState = "searching_type"
	JobDownloading        JobState = "downloading"
	JobSaving             JobState = "saving"
	JobDone               JobState = "done"
	JobFailed             JobState = "failed"
	JobCancelled          JobState = "cancelled"
)

// ProgressFunc is called once per day before it is fetched and once at completion
type ProgressFunc func(fraction float64, total, index int)

// IngestJob is one running or finished year import
type IngestJob struct {
	req    FetchRequest
	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	state    JobState
	fraction float64
	total    int
	index    int
	sensor   *entities.Sensor
	err      error
}

func newIngestJob(req FetchRequest, cancel context.CancelFunc) *IngestJob {
	return &IngestJob{
		req:    req,
		cancel: cancel,
		done:   make(chan struct{}),
		state:  JobIdle,
	}
}

// Request returns the request the job was started with
func (j *IngestJob) Request() FetchRequest {
	return j.req
}

// State returns the current phase
func (j *IngestJob) State() JobState {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Progress returns the last reported progress
func (j *IngestJob) Progress() (float64, int, int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.fraction, j.total, j.index
}

// Cancel asks the job to stop after the day currently being fetched
func (j *IngestJob) Cancel() {
	j.cancel()
}

// Done is closed when the job has finished
func (j *IngestJob) Done() <-chan struct{} {
	return j.done
}

// Wait blocks until the job has finished and returns its outcome
func (j *IngestJob) Wait() (*entities.Sensor, error) {
	<-j.done
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.sensor, j.err
}

func (j *IngestJob) finished() bool {
	select {
	case <-j.done:
		return true
	default:
		return false
	}
}

func (j *IngestJob) setState(state JobState) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.state = state
}

func (j *IngestJob) setProgress(fraction float64, total, index int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.fraction, j.total, j.index = fraction, total, index
}

func (j *IngestJob) finish(state JobState, sensor *entities.Sensor, err error) {
	j.mu.Lock()
	j.state = state
	j.sensor = sensor
	j.err = err
	j.mu.Unlock()
	close(j.done)
}
