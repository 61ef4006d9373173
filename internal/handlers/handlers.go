package handlers

import (
	"errors"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Brownie44l1/tbscan/internal/imaging"
	"github.com/Brownie44l1/tbscan/internal/logging"
	"github.com/Brownie44l1/tbscan/internal/middleware"
	"github.com/Brownie44l1/tbscan/internal/model"
)

const FileField = "file"

type Handler struct {
	classifier model.Classifier
	modelPath  string
	maxBytes   int64
	logger     *slog.Logger
}

// NewHandler wires the prediction routes. A nil classifier puts the service in
// degraded mode: every prediction answers 503 without touching the upload.
func NewHandler(classifier model.Classifier, modelPath string, maxBytes int64, logger *slog.Logger) *Handler {
	return &Handler{
		classifier: classifier,
		modelPath:  modelPath,
		maxBytes:   maxBytes,
		logger:     logger,
	}
}

type StatusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type HealthResponse struct {
	Status       string `json:"status"`
	ModelLoaded  bool   `json:"model_loaded"`
	ModelPath    string `json:"model_path,omitempty"`
	ModelVersion string `json:"model_version,omitempty"`
}

type PredictionResponse struct {
	Label      string  `json:"label"`
	Confidence string  `json:"confidence"`
	RawScore   float64 `json:"raw_score"`
	Message    string  `json:"message"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func (h *Handler) Index(c *gin.Context) {
	msg := "TB X-ray classifier ready. POST an image to /predict."
	if h.classifier == nil {
		msg = "Server running but the model is unavailable; /predict will return 503."
	}
	c.JSON(http.StatusOK, StatusResponse{Status: "server_ready", Message: msg})
}

func (h *Handler) Health(c *gin.Context) {
	if h.classifier == nil {
		c.JSON(http.StatusServiceUnavailable, HealthResponse{Status: "degraded"})
		return
	}
	c.JSON(http.StatusOK, HealthResponse{
		Status:       "ok",
		ModelLoaded:  true,
		ModelPath:    h.modelPath,
		ModelVersion: h.classifier.Info().Version,
	})
}

func (h *Handler) Predict(c *gin.Context) {
	if h.classifier == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error:   "model unavailable",
			Details: "the classifier failed to load at startup",
		})
		return
	}

	// multipart parts with an empty filename are plain fields, so they land here too
	header, err := c.FormFile(FileField)
	if err != nil {
		h.formError(c, err)
		return
	}

	prediction, mediaType, err := h.classify(c, header)
	if err != nil {
		h.classifyError(c, mediaType, err)
		return
	}

	c.JSON(http.StatusOK, PredictionResponse{
		Label:      prediction.Label,
		Confidence: prediction.FormatConfidence(),
		RawScore:   prediction.RawScore,
		Message:    "analysis complete",
	})
}

// classify returns the sniffed media type alongside any error so rejections
// can name what was actually uploaded.
func (h *Handler) classify(c *gin.Context, header *multipart.FileHeader) (model.Prediction, string, error) {
	file, err := header.Open()
	if err != nil {
		return model.Prediction{}, "", err
	}
	defer file.Close()

	meta := h.classifier.Info()
	input, mediaType, err := imaging.Prepare(file, h.maxBytes, meta.ImageSize, meta.Layout)
	if err != nil {
		return model.Prediction{}, mediaType, err
	}

	h.logger.Debug("upload accepted",
		"request_id", middleware.GetRequestID(c),
		"filename", header.Filename,
		"size", header.Size,
		"media_type", mediaType)

	score, err := h.classifier.Score(c.Request.Context(), input)
	if err != nil {
		return model.Prediction{}, mediaType, err
	}
	prediction, err := model.Interpret(float64(score))
	return prediction, mediaType, err
}

func (h *Handler) formError(c *gin.Context, err error) {
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxErr):
		c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{Error: "file too large"})
	case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "no file uploaded",
			Details: "send the image as multipart field '" + FileField + "'",
		})
	default:
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "malformed upload", Details: err.Error()})
	}
}

func (h *Handler) classifyError(c *gin.Context, mediaType string, err error) {
	switch {
	case errors.Is(err, imaging.ErrUnsupportedType):
		if base, _, perr := mime.ParseMediaType(mediaType); perr == nil {
			mediaType = base
		}
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "unsupported file type",
			Details: mediaType,
		})
	case errors.Is(err, imaging.ErrCorruptImage):
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "corrupt or unreadable image",
			Details: "the file looks like an image but could not be decoded",
		})
	case errors.Is(err, imaging.ErrFileTooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{Error: "file too large"})
	default:
		h.logger.Error("prediction failed",
			"request_id", middleware.GetRequestID(c),
			logging.Err(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to process image"})
	}
}
