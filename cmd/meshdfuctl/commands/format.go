package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
)

const (
	formatJSON  = "json"
	formatTable = "table"
)

// errUnsupportedFormat is returned when the requested output format is not supported.
var errUnsupportedFormat = errors.New("unsupported output format")

func formatDevice(d *deviceResponse, format string) (string, error) {
	switch format {
	case formatJSON:
		data, err := json.MarshalIndent(d, "", "  ")
		if err != nil {
			return "", fmt.Errorf("marshal device to JSON: %w", err)
		}
		return string(data), nil
	case formatTable:
		return formatDeviceTable(d), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func formatDeviceTable(d *deviceResponse) string {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Company ID:\t%d\n", d.CompanyID)
	fmt.Fprintf(w, "App ID:\t%d\n", d.AppID)
	fmt.Fprintf(w, "App Version:\t%s\n", versionString(d.AppVersion))
	fmt.Fprintf(w, "Bootloader Version:\t%d\n", d.BootloaderVersion)
	fmt.Fprintf(w, "Softdevice Version:\t%s\n", versionString(d.SoftdeviceVersion))
	fmt.Fprintf(w, "App Intact:\t%t\n", d.AppIntact)
	fmt.Fprintf(w, "SD Intact:\t%t\n", d.SDIntact)
	fmt.Fprintf(w, "App Segment:\t%s\n", segmentString(d.Segments.App))
	fmt.Fprintf(w, "Bootloader Segment:\t%s\n", segmentString(d.Segments.Bootloader))
	fmt.Fprintf(w, "Softdevice Segment:\t%s\n", segmentString(d.Segments.Softdevice))
	_ = w.Flush()
	return buf.String()
}

// versionString renders 0xFFFF (dfu.VersionInvalid) as "invalid" rather
// than the confusing raw integer.
func versionString(v uint16) string {
	if v == 0xFFFF {
		return "invalid"
	}
	return fmt.Sprintf("%d", v)
}

func segmentString(s segmentView) string {
	return fmt.Sprintf("start=%#x length=%#x", s.Start, s.Length)
}

func formatTransaction(t *transactionResponse, format string) (string, error) {
	switch format {
	case formatJSON:
		data, err := json.MarshalIndent(t, "", "  ")
		if err != nil {
			return "", fmt.Errorf("marshal transaction to JSON: %w", err)
		}
		return string(data), nil
	case formatTable:
		return formatTransactionTable(t), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func formatTransactionTable(t *transactionResponse) string {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "State:\t%s\n", t.State)
	fmt.Fprintf(w, "Type:\t%s\n", t.Type)
	fmt.Fprintf(w, "Transaction ID:\t%d\n", t.TransactionID)
	fmt.Fprintf(w, "Authority:\t%d\n", t.Authority)
	fmt.Fprintf(w, "Segment Count:\t%d\n", t.SegmentCount)
	fmt.Fprintf(w, "Segments Remaining:\t%d\n", t.SegmentsRemaining)
	_ = w.Flush()
	return buf.String()
}
