package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Brownie44l1/fundus-api/internal/acquire"
	"github.com/Brownie44l1/fundus-api/internal/diseases"
	"github.com/Brownie44l1/fundus-api/internal/model"
	"github.com/Brownie44l1/fundus-api/internal/pipeline"
	"github.com/Brownie44l1/fundus-api/internal/verdict"
)

// MaxUploadSize caps the multipart body of /predict.
const MaxUploadSize = 10 << 20

// UploadsRoute is where stored images are served from.
const UploadsRoute = "/uploads"

// Predictor runs the prediction pipeline.
type Predictor interface {
	Run(ctx context.Context, src acquire.Source, k int) (*verdict.Verdict, error)
	ModelAvailable() bool
}

type Handler struct {
	predictor   Predictor
	catalog     *diseases.Catalog
	defaultTopK int
	logger      *zap.Logger
}

func NewHandler(predictor Predictor, catalog *diseases.Catalog, defaultTopK int, logger *zap.Logger) *Handler {
	return &Handler{
		predictor:   predictor,
		catalog:     catalog,
		defaultTopK: defaultTopK,
		logger:      logger.Named("handlers"),
	}
}

// RegisterRoutes wires the handlers and the uploads directory into router.
func RegisterRoutes(router *gin.Engine, h *Handler, uploadDir string) {
	router.GET("/health", h.Health)
	router.GET("/diseases", h.Diseases)
	router.POST("/predict", h.Predict)
	router.Static(UploadsRoute, uploadDir)
}

func (h *Handler) Health(c *gin.Context) {
	status := "healthy"
	if !h.predictor.ModelAvailable() {
		status = "degraded"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":       status,
		"model_loaded": h.predictor.ModelAvailable(),
		"classes":      model.Labels,
	})
}

func (h *Handler) Diseases(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"diseases": h.catalog.All()})
}

type predictionResponse struct {
	verdict.Payload
	ImageURL string         `json:"image_url"`
	Disease  *diseases.Info `json:"disease,omitempty"`
}

// Predict accepts a multipart form with either a "file" or an "image_url"
// field and an optional "top_k".
func (h *Handler) Predict(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxUploadSize)

	src, err := h.readSource(c)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "upload exceeds 10MB limit"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	k := h.defaultTopK
	if raw := strings.TrimSpace(c.PostForm("top_k")); raw != "" {
		k, err = strconv.Atoi(raw)
		if err != nil || k < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "top_k must be a positive integer"})
			return
		}
	}

	v, err := h.predictor.Run(c.Request.Context(), src, k)
	if err != nil {
		h.writeError(c, err)
		return
	}

	resp := predictionResponse{
		Payload:  v.Payload(),
		ImageURL: path.Join(UploadsRoute, v.Filename),
	}
	if v.Kind == verdict.Diagnosis {
		if info, ok := h.catalog.Lookup(v.PrimaryLabel); ok {
			resp.Disease = &info
		}
	}
	c.JSON(http.StatusOK, resp)
}

// readSource builds the pipeline input from the form. Validation of the
// combination is left to the pipeline so that every path reports the same
// InvalidRequest error.
func (h *Handler) readSource(c *gin.Context) (acquire.Source, error) {
	var src acquire.Source

	if err := c.Request.ParseMultipartForm(MaxUploadSize); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		return src, err
	}

	if rawURL := strings.TrimSpace(c.PostForm("image_url")); rawURL != "" {
		src.RemoteURL = &acquire.RemoteURL{URL: rawURL}
	}

	file, err := c.FormFile("file")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
			return src, nil
		}
		return src, err
	}
	if file.Filename == "" && file.Size == 0 {
		return src, nil
	}

	f, err := file.Open()
	if err != nil {
		return src, errors.New("unable to open uploaded file")
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return src, errors.New("failed to read uploaded file")
	}
	src.Upload = &acquire.Upload{Data: data, Filename: file.Filename}
	return src, nil
}

func (h *Handler) writeError(c *gin.Context, err error) {
	var pErr *pipeline.Error
	if !errors.As(err, &pErr) {
		h.logger.Error("unexpected pipeline error", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "prediction failed"})
		return
	}

	status := http.StatusInternalServerError
	message := "prediction failed"
	switch pErr.Code {
	case pipeline.InvalidRequest:
		status = http.StatusBadRequest
		message = pErr.Detail
	case pipeline.ModelUnavailable:
		status = http.StatusServiceUnavailable
		message = "the model is not loaded; predictions are unavailable"
	case pipeline.AcquisitionFailed:
		switch pErr.Kind {
		case acquire.InvalidImageData:
			status = http.StatusUnprocessableEntity
			message = "the image could not be processed; it is not a valid image"
		case acquire.NetworkFailure:
			status = http.StatusBadGateway
			message = "error downloading image from URL; check the URL or network"
		default:
			message = "the image could not be stored"
		}
	}

	c.JSON(status, gin.H{"error": message, "code": pErr.Code})
}
