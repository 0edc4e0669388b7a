package usecases

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/abelzeko/sensor-archive/internal/entities"
	"github.com/abelzeko/sensor-archive/internal/integration/openai"
)

// HandleNaturalLanguageQuery interprets a user's free-text query using the AI service
// and returns an appropriate response string.
func (uc *SensorUseCase) HandleNaturalLanguageQuery(ctx context.Context, query string) (string, error) {
	if uc.openAIService == nil {
		return "Free text is not supported here. Use /help to see the commands.", nil
	}

	agentResp, err := uc.openAIService.InterpretUserQuery(ctx, query, uc.SensorIDs())
	if err != nil {
		uc.logger.WithError(err).Error("Error interpreting user query via OpenAI")
		return "Sorry, I'm having trouble understanding right now. Please try again later or use /help.", nil
	}

	uc.logger.Infof("Agent response: Command='%s', Sensor=%d, Year=%d", agentResp.CommandName, agentResp.SensorID, agentResp.Year)

	reply := func(text string) string {
		if agentResp.UserMessage == "" {
			return text
		}
		return agentResp.UserMessage + "\n\n" + text
	}

	switch agentResp.CommandName {
	case openai.CommandShowSensor:
		if agentResp.SensorID <= 0 {
			return agentResp.UserMessage, nil
		}
		sensor, found, err := uc.LoadSensor(ctx, agentResp.SensorID)
		if err != nil {
			return "Sorry, I couldn't load that sensor right now.", nil
		}
		if !found {
			return reply(fmt.Sprintf("Sensor %d is not in the database yet. Import it with /sync %d <year>.", agentResp.SensorID, agentResp.SensorID)), nil
		}
		return reply(FormatSensorSummary(sensor)), nil

	case openai.CommandSyncYear:
		if agentResp.SensorID <= 0 {
			return agentResp.UserMessage, nil
		}
		year := agentResp.Year
		if year == 0 {
			year = uc.now().Year()
		}
		// The job outlives the chat request
		_, err := uc.StartIngest(context.WithoutCancel(ctx), FetchRequest{Year: year, SensorID: agentResp.SensorID}, nil)
		return reply(DescribeStartError(agentResp.SensorID, year, err)), nil

	case openai.CommandResolveType:
		if agentResp.SensorID <= 0 {
			return agentResp.UserMessage, nil
		}
		year := agentResp.Year
		if year == 0 {
			year = uc.now().Year()
		}
		indoor, _, _ := uc.repo.IsIndoor(ctx, agentResp.SensorID)
		typ, found, err := uc.SearchType(ctx, agentResp.SensorID, year, indoor)
		if errors.Is(err, ErrTypeSearchTimeout) {
			return reply(DescribeTypeSearchTimeout(agentResp.SensorID)), nil
		}
		if err != nil {
			return reply(fmt.Sprintf("Type search failed: %v", err)), nil
		}
		if !found {
			return reply(fmt.Sprintf("No catalog type has data for sensor %d in %d.", agentResp.SensorID, year)), nil
		}
		return reply(fmt.Sprintf("Sensor %d is a %s.", agentResp.SensorID, typ)), nil

	case openai.CommandListSensors:
		return reply(FormatSensorList(uc.SensorIDs())), nil

	case openai.CommandGeneralQuery:
		return agentResp.UserMessage, nil

	default:
		uc.logger.Warnf("Agent returned unexpected command: %s", agentResp.CommandName)
		return "I'm not sure how to respond to that. You can use /help for commands.", nil
	}
}

// DescribeStartError turns the outcome of StartIngest into a user message
func DescribeStartError(sensorID int64, year int, err error) string {
	var validationErr *ValidationError
	switch {
	case err == nil:
		return fmt.Sprintf("Import of sensor %d for %d started.", sensorID, year)
	case errors.Is(err, ErrJobRunning):
		return "Data is being loaded at the moment, please wait."
	case errors.As(err, &validationErr):
		return fmt.Sprintf("Invalid request: %v", validationErr.Err)
	default:
		return fmt.Sprintf("Import could not be started: %v", err)
	}
}

// DescribeTypeSearchTimeout is the user message for a type search stopped by the watchdog
func DescribeTypeSearchTimeout(sensorID int64) string {
	return fmt.Sprintf("The type search for sensor %d took too long and was stopped. Please give the type to /sync manually.", sensorID)
}

// FormatSensorList formats the stored sensor IDs for display
func FormatSensorList(ids []int64) string {
	if len(ids) == 0 {
		return "No sensors stored yet."
	}
	var result strings.Builder
	result.WriteString("Stored sensors:\n")
	for _, id := range ids {
		result.WriteString(fmt.Sprintf("- %d\n", id))
	}
	return result.String()
}

// FormatSensorSummary formats the per-bucket summaries of a sensor for display
func FormatSensorSummary(sensor *entities.Sensor) string {
	var result strings.Builder
	location := "outdoor"
	if sensor.Indoor {
		location = "indoor"
	}
	result.WriteString(fmt.Sprintf("Sensor %d (%s, %s) at %.3f, %.3f\n", sensor.ID, sensor.Type, location, sensor.Lat, sensor.Lon))
	result.WriteString(fmt.Sprintf("Bucket format: %s\n", sensor.BucketFormat))
	result.WriteString(fmt.Sprintf("Stored readings: %d\n", sensor.Stored))

	buckets := sensor.Buckets()
	if len(buckets) == 0 {
		result.WriteString("\nNo numeric readings stored.")
		return result.String()
	}

	for _, bucket := range buckets {
		result.WriteString(fmt.Sprintf("\n📅 %s\n", bucket))
		minimum := byValueName(sensor.Minimum[bucket])
		average := byValueName(sensor.Average[bucket])
		for _, mx := range sensor.Maximum[bucket] {
			result.WriteString(fmt.Sprintf("  %s: max %s, min %s, avg %s\n",
				mx.ValueName, mx.Value, minimum[mx.ValueName].Value, average[mx.ValueName].Value))
		}
	}
	return result.String()
}

func byValueName(readings []entities.Reading) map[string]entities.Reading {
	m := make(map[string]entities.Reading, len(readings))
	for _, rd := range readings {
		m[rd.ValueName] = rd
	}
	return m
}
