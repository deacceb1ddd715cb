package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// errRequestFailed wraps a non-2xx admin API response.
var errRequestFailed = errors.New("admin api request failed")

// deviceResponse mirrors internal/adminapi's GET /v1/device body.
type deviceResponse struct {
	CompanyID         uint32 `json:"company_id"`
	AppID             uint16 `json:"app_id"`
	AppVersion        uint16 `json:"app_version"`
	BootloaderVersion uint16 `json:"bootloader_version"`
	SoftdeviceVersion uint16 `json:"softdevice_version"`
	AppIntact         bool   `json:"app_intact"`
	SDIntact          bool   `json:"sd_intact"`
	Segments          struct {
		App        segmentView `json:"app"`
		Bootloader segmentView `json:"bootloader"`
		Softdevice segmentView `json:"softdevice"`
	} `json:"segments"`
}

type segmentView struct {
	Start  uint32 `json:"start"`
	Length uint32 `json:"length"`
}

// transactionResponse mirrors internal/adminapi's GET /v1/transaction body.
type transactionResponse struct {
	State             string `json:"state"`
	Type              string `json:"type"`
	TransactionID     uint32 `json:"transaction_id"`
	Authority         uint8  `json:"authority"`
	SegmentCount      uint16 `json:"segment_count"`
	SegmentsRemaining uint16 `json:"segments_remaining"`
}

func baseURL() string {
	return "http://" + serverAddr
}

func getDevice(ctx context.Context) (*deviceResponse, error) {
	var resp deviceResponse
	if err := doJSON(ctx, http.MethodGet, "/v1/device", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func getTransaction(ctx context.Context) (*transactionResponse, error) {
	var resp transactionResponse
	if err := doJSON(ctx, http.MethodGet, "/v1/transaction", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func postRescan(ctx context.Context) error {
	return doJSON(ctx, http.MethodPost, "/v1/rescan", nil, nil)
}

func postAbort(ctx context.Context, reason string) error {
	body := strings.NewReader(fmt.Sprintf(`{"reason":%q}`, reason))
	return doJSON(ctx, http.MethodPost, "/v1/abort", body, nil)
}

// doJSON issues an HTTP request against the admin API and decodes a JSON
// response into out, if out is non-nil.
func doJSON(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, baseURL()+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%w: %s %s: status %d: %s", errRequestFailed, method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response from %s: %w", path, err)
	}
	return nil
}
