package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/abelzeko/sensor-archive/internal/logging"
)

// Commands the agent may choose from
const (
	CommandShowSensor   = "ShowSensor"
	CommandSyncYear     = "SyncYear"
	CommandResolveType  = "ResolveType"
	CommandListSensors  = "ListSensors"
	CommandGeneralQuery = "GeneralQuery"
)

// AgentResponse defines the structured output from the OpenAI agent.
type AgentResponse struct {
	CommandName string `json:"command_name" jsonschema_description:"The command to execute: ShowSensor, SyncYear, ResolveType, ListSensors or GeneralQuery"`
	SensorID    int64  `json:"sensor_id" jsonschema_description:"The numeric sensor.community sensor ID, 0 if none was given"`
	Year        int    `json:"year" jsonschema_description:"The four digit year the user asked about, 0 if none was given"`
	UserMessage string `json:"user_message" jsonschema_description:"A message to show back to the user in their original language"`
}

// OpenAIService defines the interface for interacting with the OpenAI agent.
type OpenAIService interface {
	InterpretUserQuery(ctx context.Context, userMessage string, knownSensors []int64) (*AgentResponse, error)
}

// openAIServiceImpl implements the OpenAIService interface.
type openAIServiceImpl struct {
	client openai.Client
	schema interface{}
	logger *logging.Logger
}

// GenerateSchema generates a JSON schema for a given type.
func GenerateSchema[T any]() interface{} {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	schema := reflector.Reflect(v)
	return schema
}

// NewOpenAIService creates and initializes a new OpenAIService.
func NewOpenAIService(apiKey string, logger *logging.Logger) (OpenAIService, error) {
	if apiKey == "" {
		return nil, errors.New("openai.apiKey is not set")
	}
	client := openai.NewClient(option.WithAPIKey(apiKey))
	schema := GenerateSchema[AgentResponse]()

	return &openAIServiceImpl{
		client: client,
		schema: schema,
		logger: logger.WithComponent(logging.ComponentBot),
	}, nil
}

// BuildSystemPrompt returns the instructions sent ahead of every user message
func BuildSystemPrompt(knownSensors []int64) string {
	ids := make([]string, 0, len(knownSensors))
	for _, id := range knownSensors {
		ids = append(ids, fmt.Sprintf("%d", id))
	}
	known := "none yet"
	if len(ids) > 0 {
		known = strings.Join(ids, ", ")
	}

	return fmt.Sprintf(`You are the assistant of a sensor.community archive bot. It downloads daily
air quality and climate measurements of citizen science sensors and summarizes them per period.

You understand English, German and Russian and always reply in the language the user used.

Sensors already stored in the database: %s

Behavior:
1. The user wants to see the stored summary of a sensor:
   - command_name = "ShowSensor", sensor_id = the sensor ID.
2. The user wants to download or import a year of data for a sensor:
   - command_name = "SyncYear", sensor_id = the sensor ID, year = the year (0 if not given).
3. The user asks which type or model a sensor is:
   - command_name = "ResolveType", sensor_id = the sensor ID, year = the year (0 if not given).
4. The user asks which sensors are available:
   - command_name = "ListSensors".
5. Anything else (greetings, small talk, unrelated questions):
   - command_name = "GeneralQuery", sensor_id = 0, year = 0.

user_message is a short confirmation or answer in the user's language.

Output **strictly** in JSON.`, known)
}

// InterpretUserQuery sends a message to the OpenAI agent and returns the structured response.
func (s *openAIServiceImpl) InterpretUserQuery(ctx context.Context, userMessage string, knownSensors []int64) (*AgentResponse, error) {
	schemaParam := openai.ResponseFormatJSONSchemaJSONSchemaParam{
		Name:        "agent_response",
		Description: openai.String("Structured response containing command, sensor ID, year and user message"),
		Schema:      s.schema,
		Strict:      openai.Bool(true),
	}

	respFormat := openai.ChatCompletionNewParamsResponseFormatUnion{
		OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{JSONSchema: schemaParam},
	}

	chat, err := s.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(BuildSystemPrompt(knownSensors)),
			openai.UserMessage(userMessage),
		},
		ResponseFormat: respFormat,
		Model:          openai.ChatModelGPT4o,
	})

	if err != nil {
		return nil, fmt.Errorf("error calling OpenAI API: %w", err)
	}

	if len(chat.Choices) == 0 || chat.Choices[0].Message.Content == "" {
		return nil, errors.New("received empty response from OpenAI")
	}

	return ParseAgentResponse(chat.Choices[0].Message.Content, s.logger)
}

// ParseAgentResponse decodes the JSON content returned by the agent
func ParseAgentResponse(content string, logger *logging.Logger) (*AgentResponse, error) {
	var agentResp AgentResponse
	if err := json.Unmarshal([]byte(content), &agentResp); err != nil {
		logger.WithError(err).Errorf("Failed to unmarshal OpenAI response, raw response: %s", content)
		return nil, fmt.Errorf("error unmarshalling OpenAI response: %w", err)
	}
	if agentResp.CommandName == "" {
		agentResp.CommandName = CommandGeneralQuery
	}
	return &agentResp, nil
}
