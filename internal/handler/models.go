package handler

import (
	"net/http"

	"github.com/JeremySu0818/GeminiAPIChat/internal/modelscan"
)

// ModelHandler exposes model scan progress to the page script.
type ModelHandler struct {
	scanner *modelscan.Scanner
}

// NewModelHandler creates a new model handler.
func NewModelHandler(scanner *modelscan.Scanner) *ModelHandler {
	return &ModelHandler{scanner: scanner}
}

// Status handles GET /api/models/status
func (h *ModelHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.scanner.ReadStatus())
}
