package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/docqa/backend/internal/query"
	"github.com/docqa/backend/pkg/logger"
)

const wsQuestionTimeout = 2 * time.Minute

type WebSocketHandler struct {
	queryEngine Asker
}

func NewWebSocketHandler(queryEngine Asker) *WebSocketHandler {
	return &WebSocketHandler{
		queryEngine: queryEngine,
	}
}

// Upgrade admits websocket upgrades only. Browsers cannot set headers on
// the handshake, so the owner may also come from the owner_id query
// parameter.
func (h *WebSocketHandler) Upgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}

	owner := c.Get(OwnerHeader)
	if owner == "" {
		owner = c.Query("owner_id")
	}
	if owner == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": OwnerHeader + " header or owner_id parameter is required",
		})
	}
	// The connection outlives the upgrade request and its buffers.
	c.Locals("owner_id", utils.CopyString(owner))
	return c.Next()
}

func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	owner, _ := c.Locals("owner_id").(string)
	logger.Info("WebSocket connection established", zap.String("owner_id", owner))

	defer func() {
		c.Close()
		logger.Info("WebSocket connection closed", zap.String("owner_id", owner))
	}()

	for {
		var msg struct {
			Type     string `json:"type"`
			Question string `json:"question"`
		}

		err := c.ReadJSON(&msg)
		if err != nil {
			logger.Debug("WebSocket read ended", zap.Error(err))
			break
		}

		if msg.Type != "query" {
			continue
		}

		if err := h.streamResponse(c, owner, msg.Question); err != nil {
			_, text := statusFor(err, "Failed to process question")
			logger.Warn("Failed to stream response", zap.Error(err))
			h.sendError(c, text)
		}
	}
}

func (h *WebSocketHandler) streamResponse(c *websocket.Conn, owner, question string) error {
	ctx, cancel := context.WithTimeout(context.Background(), wsQuestionTimeout)
	defer cancel()

	if err := h.sendChunk(c, "status", "Processing question..."); err != nil {
		return err
	}

	response, err := h.queryEngine.Ask(ctx, query.QueryRequest{
		Question: question,
		OwnerID:  owner,
	})
	if err != nil {
		return err
	}

	words := splitIntoWords(response.Answer)
	for i, word := range words {
		chunk := word
		if i < len(words)-1 && word != "\n" {
			chunk += " "
		}

		if err := h.sendChunk(c, "chunk", chunk); err != nil {
			return err
		}
	}

	complete := responseBody(response)
	complete["type"] = "complete"
	delete(complete, "answer")
	return c.WriteJSON(complete)
}

func (h *WebSocketHandler) sendChunk(c *websocket.Conn, msgType, content string) error {
	return c.WriteJSON(fiber.Map{
		"type":    msgType,
		"content": content,
	})
}

func (h *WebSocketHandler) sendError(c *websocket.Conn, errorMsg string) {
	_ = c.WriteJSON(fiber.Map{
		"type":  "error",
		"error": errorMsg,
	})
}

// splitIntoWords splits on spaces and keeps each newline as its own word.
func splitIntoWords(text string) []string {
	var words []string
	start := -1

	for i, char := range text {
		if char == ' ' || char == '\n' {
			if start >= 0 {
				words = append(words, text[start:i])
				start = -1
			}
			if char == '\n' {
				words = append(words, "\n")
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}

	if start >= 0 {
		words = append(words, text[start:])
	}

	return words
}
