package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"CripteX/internal/domain/models"
	drepo "CripteX/internal/domain/repository"
	pkgkafka "CripteX/pkg/kafka"
)

// PredictionsHandler consumes whole prediction lists from Kafka and installs
// them on the board. Each message replaces the previous list.
type PredictionsHandler struct {
	topic   string
	board   *PredictionBoard
	metrics drepo.Metrics
}

func NewPredictionsHandler(topic string, board *PredictionBoard, metrics drepo.Metrics) *PredictionsHandler {
	return &PredictionsHandler{topic: topic, board: board, metrics: metrics}
}

func (h *PredictionsHandler) Topic() string { return h.topic }

// Handle accepts either a bare JSON array or {"predictions": [...]}.
func (h *PredictionsHandler) Handle(_ context.Context, b []byte) error {
	records, err := decodePredictions(b)
	if err != nil {
		h.metrics.RecordError("predictions_unmarshal")
		return err
	}
	if err := h.board.Replace(records); err != nil {
		h.metrics.RecordError("predictions_invalid")
		return fmt.Errorf("replace predictions: %w", err)
	}
	h.metrics.RecordMessageSent("prediction_board", "*")
	return nil
}

func decodePredictions(b []byte) ([]models.PredictionRecord, error) {
	var list []models.PredictionRecord
	if err := json.Unmarshal(b, &list); err == nil {
		// null decodes without error; only [] clears the board
		if list == nil {
			return nil, errors.New("decode predictions: null payload")
		}
		return list, nil
	}

	var envelope struct {
		Predictions *[]models.PredictionRecord `json:"predictions"`
	}
	if err := json.Unmarshal(b, &envelope); err != nil {
		return nil, fmt.Errorf("decode predictions: %w", err)
	}
	if envelope.Predictions == nil {
		return nil, fmt.Errorf("decode predictions: missing \"predictions\" field")
	}
	return *envelope.Predictions, nil
}

var _ pkgkafka.MessageHandler = (*PredictionsHandler)(nil)
