// Package api provides handlers for external APIs and interfaces
package api

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/abelzeko/sensor-archive/internal/entities"
	"github.com/abelzeko/sensor-archive/internal/logging"
	"github.com/abelzeko/sensor-archive/internal/usecases"
)

// Telegram rejects longer messages
const maxMessageLength = 4000

// TelegramBot handles interactions with the Telegram API
type TelegramBot struct {
	bot     *tgbotapi.BotAPI
	useCase *usecases.SensorUseCase
	logger  *logging.Logger
}

// NewTelegramBot creates a new Telegram bot handler
func NewTelegramBot(botToken string, useCase *usecases.SensorUseCase, logger *logging.Logger) (*TelegramBot, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	return &TelegramBot{
		bot:     bot,
		useCase: useCase,
		logger:  logger.WithComponent(logging.ComponentBot),
	}, nil
}

// Start begins listening for and handling Telegram messages until ctx is cancelled
func (t *TelegramBot) Start(ctx context.Context) {
	t.logger.Infof("Authorized on Telegram account %s", t.bot.Self.UserName)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := t.bot.GetUpdatesChan(u)
	t.logger.Info("Bot is now listening for messages...")

	for {
		select {
		case <-ctx.Done():
			t.bot.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message == nil {
				continue
			}

			t.logger.WithFields(map[string]interface{}{
				"user":    userName(update.Message),
				"chat_id": update.Message.Chat.ID,
			}).Infof("Received message: %s", update.Message.Text)

			t.handleMessage(ctx, update)
		}
	}
}

func userName(message *tgbotapi.Message) string {
	if message.From == nil {
		return ""
	}
	return message.From.UserName
}

// handleMessage processes a Telegram message update
func (t *TelegramBot) handleMessage(ctx context.Context, update tgbotapi.Update) {
	msg := tgbotapi.NewMessage(update.Message.Chat.ID, t.reply(ctx, update.Message))
	t.send(msg)
}

func (t *TelegramBot) send(msg tgbotapi.MessageConfig) {
	if t.bot == nil {
		return
	}
	for _, part := range splitMessage(msg.Text, maxMessageLength) {
		chunk := msg
		chunk.Text = part
		if _, err := t.bot.Send(chunk); err != nil {
			t.logger.WithError(err).Error("Error sending message")
			return
		}
	}
}

// splitMessage cuts text into parts of at most limit bytes. Cuts fall on a line break
// when one is close enough and never inside a UTF-8 sequence.
func splitMessage(text string, limit int) []string {
	var parts []string
	for len(text) > limit {
		cut := limit
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		if cut == 0 {
			cut = limit
		}
		if nl := strings.LastIndexByte(text[:cut], '\n'); nl >= limit/2 {
			cut = nl + 1
		}
		parts = append(parts, text[:cut])
		text = text[cut:]
	}
	return append(parts, text)
}

// reply computes the answer to one message
func (t *TelegramBot) reply(ctx context.Context, message *tgbotapi.Message) string {
	if message.IsCommand() {
		return t.handleCommand(ctx, message)
	}
	return t.handleNonCommand(ctx, message)
}

// handleCommand processes commands like /start, /help, etc.
func (t *TelegramBot) handleCommand(ctx context.Context, message *tgbotapi.Message) string {
	args := strings.Fields(message.CommandArguments())
	t.logger.Debugf("Handling /%s command with args %v", message.Command(), args)

	switch message.Command() {
	case "start":
		return "Welcome to the Sensor Archive Bot! Use /sensors to see the stored sensors or /help for more information."

	case "help":
		return "Available commands:\n" +
			"/sensors - Show the stored sensors\n" +
			"/sensor [id] - Show the summary of a sensor\n" +
			"/sync [id] [year] [type] [indoor] - Import a year of data\n" +
			"/status - Show the running import\n" +
			"/type [id] [year] - Find the type of a sensor\n" +
			"/types - Show the types tried during type search\n" +
			"/delete [id] - Remove a sensor and its readings\n" +
			"/bucket [format] - Show or change the summary period\n" +
			"/clearcache [all] - Remove downloaded files, with all also the database\n" +
			"/help - Show this help message"

	case "sensors":
		return usecases.FormatSensorList(t.useCase.SensorIDs())

	case "sensor":
		return t.handleSensorCommand(ctx, args)

	case "sync":
		return t.handleSyncCommand(ctx, message.Chat, args)

	case "status":
		return t.handleStatusCommand()

	case "type":
		return t.handleTypeCommand(ctx, args)

	case "types":
		types, err := t.useCase.ListSensorTypes(ctx)
		if err != nil {
			t.logger.WithError(err).Error("Error fetching sensor types")
			return "Error fetching sensor types. Please try again later."
		}
		return "Searched sensor types:\n• " + strings.Join(types, "\n• ")

	case "delete":
		id, err := parseSensorID(args)
		if err != nil {
			return err.Error()
		}
		if err := t.useCase.DeleteSensor(ctx, id); err != nil {
			t.logger.WithError(err).Error("Error deleting sensor")
			return "Error deleting sensor. Please try again later."
		}
		return fmt.Sprintf("Sensor %d was deleted.", id)

	case "bucket":
		return t.handleBucketCommand(ctx, args)

	case "clearcache":
		wipeAll := len(args) > 0 && args[0] == "all"
		if err := t.useCase.ClearCache(ctx, wipeAll); err != nil {
			if errors.Is(err, usecases.ErrJobRunning) {
				return "Data is being loaded at the moment, please wait."
			}
			t.logger.WithError(err).Error("Error clearing cache")
			return "Error clearing cache. Please try again later."
		}
		if wipeAll {
			return "Cache and database were cleared."
		}
		return "Cache was cleared."

	default:
		return "Unknown command. Use /help to see available commands."
	}
}

func parseSensorID(args []string) (int64, error) {
	if len(args) == 0 {
		return 0, errors.New("Please specify a sensor ID. Example: /sensor 113")
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("'%s' is not a valid sensor ID.", args[0])
	}
	return id, nil
}

func parseYear(args []string, index int, fallback int) (int, error) {
	if len(args) <= index {
		return fallback, nil
	}
	year, err := strconv.Atoi(args[index])
	if err != nil {
		return 0, fmt.Errorf("'%s' is not a valid year.", args[index])
	}
	return year, nil
}

// handleSensorCommand processes the /sensor [id] command
func (t *TelegramBot) handleSensorCommand(ctx context.Context, args []string) string {
	id, err := parseSensorID(args)
	if err != nil {
		return err.Error()
	}

	sensor, found, err := t.useCase.LoadSensor(ctx, id)
	if err != nil {
		t.logger.WithError(err).Error("Error loading sensor")
		return "Error loading sensor data. Please try again later."
	}
	if !found {
		return fmt.Sprintf("Sensor %d could not be found, please sync it first with /sync %d [year].", id, id)
	}
	return usecases.FormatSensorSummary(sensor)
}

// handleSyncCommand starts a year import and reports its outcome to the chat when it ends
func (t *TelegramBot) handleSyncCommand(ctx context.Context, chat *tgbotapi.Chat, args []string) string {
	id, err := parseSensorID(args)
	if err != nil {
		return err.Error()
	}
	year, err := parseYear(args, 1, time.Now().Year())
	if err != nil {
		return err.Error()
	}

	req := usecases.FetchRequest{Year: year, SensorID: id}
	if len(args) > 2 {
		req.Type = args[2]
	}
	if len(args) > 3 {
		req.Indoor = args[3] == "indoor" || args[3] == "1" || args[3] == "true"
	}

	stored, err := t.useCase.HasYear(ctx, id, year)
	if err != nil {
		t.logger.WithError(err).Warn("Error checking stored years")
	}

	// The import outlives the update that started it
	job, err := t.useCase.StartIngest(context.WithoutCancel(ctx), req, nil)
	if err != nil {
		return usecases.DescribeStartError(id, year, err)
	}

	if chat != nil {
		go func(chatID int64) {
			sensor, err := job.Wait()
			text := fmt.Sprintf("Data of sensor %d for %d was downloaded successfully.", id, year)
			if err != nil {
				text = fmt.Sprintf("Import of sensor %d for %d ended: %v", id, year, err)
			} else if sensor != nil {
				text += fmt.Sprintf(" %d readings, type %s.", len(sensor.Readings), sensor.Type)
			}
			t.send(tgbotapi.NewMessage(chatID, text))
		}(chat.ID)
	}

	reply := usecases.DescribeStartError(id, year, nil)
	if stored {
		reply = fmt.Sprintf("Sensor %d already has data for %d, stored readings are kept and missing days are added.\n", id, year) + reply
	}
	return reply
}

// handleStatusCommand reports the state of the most recent import
func (t *TelegramBot) handleStatusCommand() string {
	job := t.useCase.CurrentJob()
	if job == nil {
		return "No import has been started yet."
	}
	fraction, total, index := job.Progress()
	req := job.Request()
	return fmt.Sprintf("Sensor %d, year %d: %s (%d/%d days, %.0f%%)",
		req.SensorID, req.Year, job.State(), index, total, fraction*100)
}

// handleTypeCommand processes the /type [id] [year] command
func (t *TelegramBot) handleTypeCommand(ctx context.Context, args []string) string {
	id, err := parseSensorID(args)
	if err != nil {
		return err.Error()
	}
	year, err := parseYear(args, 1, time.Now().Year())
	if err != nil {
		return err.Error()
	}

	indoor, _, err := t.useCase.IsIndoor(ctx, id)
	if err != nil {
		t.logger.WithError(err).Error("Error reading indoor flag")
	}

	typ, found, err := t.useCase.SearchType(ctx, id, year, indoor)
	if errors.Is(err, usecases.ErrTypeSearchTimeout) {
		return usecases.DescribeTypeSearchTimeout(id)
	}
	if err != nil {
		var validationErr *usecases.ValidationError
		if errors.As(err, &validationErr) {
			return fmt.Sprintf("Invalid request: %v", validationErr.Err)
		}
		t.logger.WithError(err).Error("Error resolving sensor type")
		return "Error searching the sensor type. Please try again later."
	}
	if !found {
		return fmt.Sprintf("No known sensor type has data for sensor %d in %d. Please give the type to /sync manually.", id, year)
	}
	return fmt.Sprintf("Sensor %d is a %s.", id, typ)
}

// handleBucketCommand shows or changes the bucket format setting
func (t *TelegramBot) handleBucketCommand(ctx context.Context, args []string) string {
	if len(args) == 0 {
		current, err := t.useCase.GetSetting(ctx, entities.SettingBucketFormat)
		if err != nil {
			t.logger.WithError(err).Error("Error reading bucket format")
			return "Error reading settings. Please try again later."
		}
		return fmt.Sprintf("Current bucket format: %s\nAvailable: %s", current, strings.Join(entities.BucketFormats, ", "))
	}

	format := strings.Join(args, " ")
	if err := t.useCase.SetSetting(ctx, entities.SettingBucketFormat, format); err != nil {
		var validationErr *usecases.ValidationError
		if errors.As(err, &validationErr) {
			return fmt.Sprintf("Invalid bucket format. Available: %s", strings.Join(entities.BucketFormats, ", "))
		}
		t.logger.WithError(err).Error("Error storing bucket format")
		return "Error storing settings. Please try again later."
	}
	return fmt.Sprintf("Bucket format set to %s.", format)
}

// handleNonCommand processes regular messages
func (t *TelegramBot) handleNonCommand(ctx context.Context, message *tgbotapi.Message) string {
	reply, err := t.useCase.HandleNaturalLanguageQuery(ctx, message.Text)
	if err != nil || reply == "" {
		return "I don't understand. Use /help to see available commands."
	}
	return reply
}
