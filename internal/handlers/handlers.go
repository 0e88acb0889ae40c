package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/Brownie44l1/forgery-api/internal/detector"
	"github.com/Brownie44l1/forgery-api/internal/errs"
	"github.com/Brownie44l1/forgery-api/internal/model"
)

// Analyzer produces a verdict for encoded image bytes.
type Analyzer interface {
	Analyze(ctx context.Context, data []byte, opts detector.AnalyzeOptions) (*model.AnalysisResult, error)
}

// AnalyzeRequest is the JSON body of POST /analyze. Image is a data URL
// ("data:image/jpeg;base64,...") or bare base64.
type AnalyzeRequest struct {
	Image      string `json:"image"`
	IncludeELA bool   `json:"include_ela"`
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

type Handler struct {
	analyzer       Analyzer
	logger         *zap.Logger
	maxUploadBytes int64
}

func NewHandler(analyzer Analyzer, maxUploadBytes int64, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxUploadBytes <= 0 {
		maxUploadBytes = 10 << 20
	}
	return &Handler{
		analyzer:       analyzer,
		logger:         logger,
		maxUploadBytes: maxUploadBytes,
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxUploadBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read request body", "")
		return
	}

	var req AnalyzeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON", string(errs.KindInvalidArgument))
		return
	}

	data, err := decodeDataURL(req.Image)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), string(errs.KindDecode))
		return
	}

	h.analyze(w, r, data, detector.AnalyzeOptions{IncludeELA: req.IncludeELA})
}

func (h *Handler) AnalyzeFromImage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "Failed to parse form", "")
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No image file provided. Use 'image' as the form field name", "")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read upload", "")
		return
	}

	h.logger.Debug("received upload",
		zap.String("filename", header.Filename),
		zap.Int64("size", header.Size),
	)

	opts := detector.AnalyzeOptions{IncludeELA: r.FormValue("include_ela") == "true"}
	h.analyze(w, r, data, opts)
}

func (h *Handler) analyze(w http.ResponseWriter, r *http.Request, data []byte, opts detector.AnalyzeOptions) {
	result, err := h.analyzer.Analyze(r.Context(), data, opts)
	if err != nil {
		kind := errs.KindOf(err)
		status := http.StatusInternalServerError
		switch kind {
		case errs.KindDecode, errs.KindInvalidArgument, errs.KindShapeMismatch:
			status = http.StatusBadRequest
		case errs.KindCanceled:
			status = http.StatusServiceUnavailable
		}
		if status == http.StatusInternalServerError {
			h.logger.Error("analysis failed", zap.Error(err))
			writeError(w, status, "Analysis failed", string(kind))
			return
		}
		writeError(w, status, err.Error(), string(kind))
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// decodeDataURL accepts "data:<mime>;base64,<payload>" or a bare payload.
func decodeDataURL(s string) ([]byte, error) {
	if s == "" {
		return nil, errors.New("image is required")
	}
	payload := s
	if strings.HasPrefix(s, "data:") {
		_, after, ok := strings.Cut(s, ",")
		if !ok {
			return nil, errors.New("malformed data URL")
		}
		payload = after
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, errors.New("image is not valid base64")
	}
	return data, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg, kind string) {
	writeJSON(w, status, errorResponse{Error: msg, Kind: kind})
}
