package adminapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/meshdfu/meshdfu/internal/dfu"
)

// Sentinel errors for the adminapi package.
var (
	// ErrMissingReason indicates a POST /v1/abort request had no reason field.
	ErrMissingReason = errors.New("reason must be set")

	// ErrUnknownReason indicates a POST /v1/abort request named an
	// AbortReason this build does not recognize.
	ErrUnknownReason = errors.New("unrecognized abort reason")

	// ErrPanicRecovered indicates a handler panicked and was recovered.
	ErrPanicRecovered = errors.New("panic recovered in admin api handler")
)

// Controller is the subset of *dfu.Coordinator the admin API drives.
// Defined as an interface so handler tests can fake it without a live
// protocol run.
type Controller interface {
	Snapshot() dfu.CoordinatorSnapshot
	Rescan()
	Abort(reason dfu.AbortReason)
}

// Handler implements the admin API's HTTP routes. Each handler delegates
// to the Controller for actual coordinator state; the handler is a thin
// adapter between HTTP and the domain, the same shape server.BFDServer
// takes toward *bfd.Manager.
type Handler struct {
	coordinator Controller
	info        *dfu.InfoView
	logger      *slog.Logger
}

// New creates a Handler and returns the *http.ServeMux routing its four
// endpoints.
func New(coordinator Controller, info *dfu.InfoView, logger *slog.Logger) *http.ServeMux {
	h := &Handler{
		coordinator: coordinator,
		info:        info,
		logger:      logger.With(slog.String("component", "adminapi")),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/device", h.getDevice)
	mux.HandleFunc("GET /v1/transaction", h.getTransaction)
	mux.HandleFunc("POST /v1/rescan", h.postRescan)
	mux.HandleFunc("POST /v1/abort", h.postAbort)
	return mux
}

// deviceResponse is the JSON shape returned by GET /v1/device.
type deviceResponse struct {
	CompanyID         uint32         `json:"company_id"`
	AppID             uint16         `json:"app_id"`
	AppVersion        uint16         `json:"app_version"`
	BootloaderVersion uint16         `json:"bootloader_version"`
	SoftdeviceVersion uint16         `json:"softdevice_version"`
	AppIntact         bool           `json:"app_intact"`
	SDIntact          bool           `json:"sd_intact"`
	Segments          segmentsByType `json:"segments"`
}

type segmentsByType struct {
	App        segmentJSON `json:"app"`
	Bootloader segmentJSON `json:"bootloader"`
	Softdevice segmentJSON `json:"softdevice"`
}

type segmentJSON struct {
	Start  uint32 `json:"start"`
	Length uint32 `json:"length"`
}

func (h *Handler) getDevice(w http.ResponseWriter, r *http.Request) {
	fwid := h.info.FWID()
	flags := h.info.Flags()
	resp := deviceResponse{
		CompanyID:         fwid.CompanyID,
		AppID:             fwid.AppID,
		AppVersion:        fwid.AppVersion,
		BootloaderVersion: fwid.BootloaderVersion,
		SoftdeviceVersion: fwid.SoftdeviceVersion,
		AppIntact:         flags.AppIntact,
		SDIntact:          flags.SDIntact,
		Segments: segmentsByType{
			App:        toSegmentJSON(h.info.Segment(dfu.TypeApp)),
			Bootloader: toSegmentJSON(h.info.Segment(dfu.TypeBootloader)),
			Softdevice: toSegmentJSON(h.info.Segment(dfu.TypeSoftdevice)),
		},
	}
	writeJSON(w, http.StatusOK, resp)
}

func toSegmentJSON(s dfu.Segment) segmentJSON {
	return segmentJSON{Start: uint32(s.Start), Length: s.Length}
}

// transactionResponse is the JSON shape returned by GET /v1/transaction.
type transactionResponse struct {
	State             string `json:"state"`
	Type              string `json:"type"`
	TransactionID     uint32 `json:"transaction_id"`
	Authority         uint8  `json:"authority"`
	SegmentCount      uint16 `json:"segment_count"`
	SegmentsRemaining uint16 `json:"segments_remaining"`
}

func (h *Handler) getTransaction(w http.ResponseWriter, r *http.Request) {
	snap := h.coordinator.Snapshot()
	writeJSON(w, http.StatusOK, transactionResponse{
		State:             snap.State.String(),
		Type:              snap.Type.String(),
		TransactionID:     snap.TransactionID,
		Authority:         snap.Authority,
		SegmentCount:      snap.SegmentCount,
		SegmentsRemaining: snap.SegmentsRemaining,
	})
}

func (h *Handler) postRescan(w http.ResponseWriter, r *http.Request) {
	h.coordinator.Rescan()
	h.logger.InfoContext(r.Context(), "rescan requested")
	w.WriteHeader(http.StatusAccepted)
}

// abortRequest is the JSON body POST /v1/abort expects.
type abortRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) postAbort(w http.ResponseWriter, r *http.Request) {
	var req abortRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	reason, err := parseAbortReason(req.Reason)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	h.coordinator.Abort(reason)
	h.logger.InfoContext(r.Context(), "abort requested", slog.String("reason", reason.String()))
	w.WriteHeader(http.StatusAccepted)
}

// parseAbortReason maps the admin API's string form back to a
// dfu.AbortReason, the inverse of AbortReason.String().
func parseAbortReason(s string) (dfu.AbortReason, error) {
	if s == "" {
		return 0, ErrMissingReason
	}
	reasons := []dfu.AbortReason{
		dfu.AbortSuccess, dfu.AbortFWIDValid, dfu.AbortUnauthorized,
		dfu.AbortNoStart, dfu.AbortNoMem, dfu.AbortInvalidPersistentStorage,
	}
	for _, r := range reasons {
		if r.String() == s {
			return r, nil
		}
	}
	return 0, ErrUnknownReason
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
