package usecases

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/abelzeko/sensor-archive/internal/integration"
	"github.com/abelzeko/sensor-archive/internal/repository"
)

// FirstArchiveYear is the first year the archive holds data for
const FirstArchiveYear = 2015

var (
	// ErrNoConnection is returned when the archive cannot be reached before an import
	ErrNoConnection = integration.ErrNoConnection
	// ErrSettingNotFound is returned for unknown setting names
	ErrSettingNotFound = repository.ErrSettingNotFound
	// ErrJobRunning is returned when an ingestion is already in progress
	ErrJobRunning = errors.New("an ingestion job is already running")
	// ErrTypeSearchTimeout is returned when the type search exceeded its time limit
	ErrTypeSearchTimeout = errors.New("sensor type search timed out, please enter the type manually")
	// ErrTypeUnknown is returned when no catalog type has data for the sensor
	ErrTypeUnknown = errors.New("sensor type could not be determined")
	// ErrNoData is returned when a year import found no readings at all
	ErrNoData = errors.New("no data found for sensor")
)

// ValidationError reports invalid caller input detected before any I/O
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

var validate = validator.New()

// FetchRequest describes one sensor year to import
type FetchRequest struct {
	Year     int    `validate:"gte=2015"`
	Type     string `validate:"omitempty,max=64"`
	SensorID int64  `validate:"gt=0"`
	Indoor   bool
}

type sensorRequest struct {
	SensorID int64 `validate:"gt=0"`
}

// validateStruct runs the struct validator and converts the first failure
func validateStruct(v interface{}) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		return &ValidationError{Field: fieldErrs[0].Field(), Err: err}
	}
	return &ValidationError{Field: "request", Err: err}
}

func validateSensorID(id int64) error {
	return validateStruct(sensorRequest{SensorID: id})
}

func validateFetchRequest(req FetchRequest, now time.Time) error {
	if err := validateStruct(req); err != nil {
		return err
	}
	if req.Year > now.Year() {
		return &ValidationError{
			Field: "Year",
			Err:   fmt.Errorf("data can only be loaded from %d to %d", FirstArchiveYear, now.Year()),
		}
	}
	return nil
}
