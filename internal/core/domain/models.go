package domain

import "time"

// UnknownSpecies is reported when a person lists no species.
const UnknownSpecies = "Unknown"

// Person is a SWAPI people record as fetched from the remote API.
// ID is the 1-based index it was requested by.
type Person struct {
	ID        int      `json:"id,omitempty"`
	Name      string   `json:"name"`
	Height    string   `json:"height"`
	Mass      string   `json:"mass"`
	HairColor string   `json:"hair_color"`
	SkinColor string   `json:"skin_color"`
	EyeColor  string   `json:"eye_color"`
	BirthYear string   `json:"birth_year"`
	Gender    string   `json:"gender"`
	Homeworld string   `json:"homeworld"`
	Films     []string `json:"films"`
	Species   []string `json:"species"`
	Vehicles  []string `json:"vehicles"`
	Starships []string `json:"starships"`
	Created   string   `json:"created"`
	Edited    string   `json:"edited"`
	URL       string   `json:"url"`
}

// ProcessedPerson is derived from exactly one Person.
type ProcessedPerson struct {
	ID            int       `json:"id"`
	Name          string    `json:"name"`
	Height        int       `json:"height"`
	Mass          int       `json:"mass"`
	BMI           *float64  `json:"bmi"` // nil when height or mass is missing
	FilmCount     int       `json:"film_count"`
	VehicleCount  int       `json:"vehicle_count"`
	StarshipCount int       `json:"starship_count"`
	Species       string    `json:"species"`
	Homeworld     string    `json:"homeworld"`
	ProcessedAt   time.Time `json:"processed_at"`
}

// JobState is the lifecycle state of a job.
type JobState string

const (
	JobStatePending   JobState = "pending"
	JobStateRunning   JobState = "running"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
)

// Job represents a single orchestrator run.
type Job struct {
	ID          string    `json:"job_id"`
	Requested   int       `json:"requested"`
	Dispatched  int       `json:"dispatched"`
	Processed   int       `json:"processed"`
	State       JobState  `json:"state"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	CompletedAt time.Time `json:"completed_at,omitzero"`
}

// MarkRunning moves a pending job to running.
func (j *Job) MarkRunning() { j.State = JobStateRunning }

// MarkCompleted records a successful finish.
func (j *Job) MarkCompleted(at time.Time) {
	j.State = JobStateCompleted
	j.CompletedAt = at
}

// MarkFailed records a failed finish. A nil err leaves Error untouched.
func (j *Job) MarkFailed(at time.Time, err error) {
	j.State = JobStateFailed
	j.CompletedAt = at
	if err != nil {
		j.Error = err.Error()
	}
}

// JobResult holds the outcome of a completed job.
type JobResult struct {
	Job         Job
	Results     []ProcessedPerson
	ResultsPath string
}
