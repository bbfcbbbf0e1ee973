// internal/server/tools.go
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/ThinkInAIXYZ/go-mcp/protocol"
	"go.uber.org/zap"

	"nutriscan/internal/models"
)

var errInvalidParams = errors.New("invalid parameters")

type toolHandler func(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error)

type SubmitBarcodeParams struct {
	Barcode string `json:"barcode" description:"Barcode to look up, surrounding whitespace is ignored"`
}

type GetHistoryParams struct {
	Limit int `json:"limit,omitempty" description:"Maximum number of scans to return, newest first"`
}

// CameraStatus describes the capture session.
type CameraStatus struct {
	State       string `json:"state"`
	Scanning    bool   `json:"scanning"`
	FrameWidth  int    `json:"frame_width,omitempty"`
	FrameHeight int    `json:"frame_height,omitempty"`
}

type AnalysisView struct {
	Visible bool                    `json:"visible"`
	Record  *models.NutritionRecord `json:"record,omitempty"`
}

func (s *ScanServer) tools() map[string]toolHandler {
	return map[string]toolHandler{
		"submit_barcode": s.handleSubmitBarcode,
		"get_history":    s.handleGetHistory,
		"get_analysis":   s.handleGetAnalysis,
		"open_camera":    s.handleOpenCamera,
		"capture":        s.handleCapture,
		"close_camera":   s.handleCloseCamera,
		"camera_status":  s.handleCameraStatus,
	}
}

// extractParams safely extracts parameters from the request arguments
func extractParams(req *protocol.CallToolRequest, target interface{}) error {
	if len(req.Arguments) == 0 {
		return nil
	}
	jsonBytes, err := json.Marshal(req.Arguments)
	if err != nil {
		return fmt.Errorf("%w: %v", errInvalidParams, err)
	}

	if err := json.Unmarshal(jsonBytes, target); err != nil {
		return fmt.Errorf("%w: %v", errInvalidParams, err)
	}

	return nil
}

// handleSubmitBarcode is the manual entry path.
func (s *ScanServer) handleSubmitBarcode(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params SubmitBarcodeParams
	if err := extractParams(req, &params); err != nil {
		return nil, err
	}

	result, err := s.pipeline.SubmitManual(ctx, params.Barcode)
	if err != nil {
		return nil, err
	}
	return s.createJSONResponse(result)
}

func (s *ScanServer) handleGetHistory(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params GetHistoryParams
	if err := extractParams(req, &params); err != nil {
		return nil, err
	}
	if params.Limit < 0 {
		return nil, fmt.Errorf("%w: limit must not be negative", errInvalidParams)
	}

	scans, err := s.listHistory(ctx, params.Limit)
	if err != nil {
		return nil, err
	}

	return s.createJSONResponse(map[string]interface{}{
		"scans": scans,
		"count": len(scans),
	})
}

func (s *ScanServer) handleGetAnalysis(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	return s.createJSONResponse(s.analysisView())
}

func (s *ScanServer) handleOpenCamera(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	if err := s.session.Open(ctx); err != nil {
		return nil, err
	}
	return s.createJSONResponse(s.cameraStatus())
}

// handleCapture grabs a frame and starts the simulated decode. The result
// lands in the history once the scan delay elapses, after which the camera
// closes itself.
func (s *ScanServer) handleCapture(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	status := s.cameraStatus()
	if !s.session.CaptureAndScan(s.pipeline.CameraCallback()) {
		return nil, fmt.Errorf("%w: camera is %s, scanning=%t", errConflict, status.State, status.Scanning)
	}
	s.logger.Debug("capture started", zap.Int("width", status.FrameWidth), zap.Int("height", status.FrameHeight))
	return s.createJSONResponse(s.cameraStatus())
}

func (s *ScanServer) handleCloseCamera(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	s.session.Close()
	return s.createJSONResponse(s.cameraStatus())
}

func (s *ScanServer) handleCameraStatus(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	return s.createJSONResponse(s.cameraStatus())
}

func (s *ScanServer) cameraStatus() CameraStatus {
	status := CameraStatus{
		State:    s.session.State().String(),
		Scanning: s.session.Scanning(),
	}
	if frame := s.session.LastFrame(); frame != nil {
		status.FrameWidth = frame.Bounds().Dx()
		status.FrameHeight = frame.Bounds().Dy()
	}
	return status
}

func (s *ScanServer) analysisView() AnalysisView {
	record, ok := s.analysis.Current()
	if !ok {
		return AnalysisView{}
	}
	return AnalysisView{Visible: true, Record: &record}
}

func (s *ScanServer) listHistory(ctx context.Context, limit int) ([]models.ScanResult, error) {
	scans, err := s.pipeline.History(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	if limit > 0 && len(scans) > limit {
		scans = scans[:limit]
	}
	return scans, nil
}

// REST handlers

func (s *ScanServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"server": s.info,
		"camera": s.session.State().String(),
	})
}

func (s *ScanServer) handleHistory(w http.ResponseWriter, r *http.Request) {
	scans, err := s.listHistory(r.Context(), 0)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, scans)
}

func (s *ScanServer) handleCreateScan(w http.ResponseWriter, r *http.Request) {
	var params SubmitBarcodeParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		http.Error(w, fmt.Sprintf("Invalid JSON: %v", err), http.StatusBadRequest)
		return
	}

	result, err := s.pipeline.SubmitManual(r.Context(), params.Barcode)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	s.writeJSON(w, http.StatusCreated, result)
}

func (s *ScanServer) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.analysisView())
}

func (s *ScanServer) handleDismissAnalysis(w http.ResponseWriter, r *http.Request) {
	s.analysis.Dismiss()
	w.WriteHeader(http.StatusNoContent)
}

// handleNotifications drains the pending user notifications.
func (s *ScanServer) handleNotifications(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.toasts.Drain())
}
