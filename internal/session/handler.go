package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"snapvault/internal/compare"
	"snapvault/internal/ledger"
)

// MetaTimeFormat is the start time layout in META-INF_AND_TREE replies.
const MetaTimeFormat = "02.01.2006 15:04:05"

// Service is what the protocol drives. *scanner.Coordinator implements it.
type Service interface {
	StartScanning(interval time.Duration) bool
	StopScanning()
	LastScan(ctx context.Context) (*ledger.Record, error)
	Restore(ctx context.Context, id uint64) bool
	DiffAgainstPredecessor(ctx context.Context, id uint64) (*compare.Report, *ledger.Record, error)
	Entries(ctx context.Context) ([]ledger.DirectoryEntry, error)
}

// Handler turns inbound messages into replies.
type Handler struct {
	svc    Service
	logger *slog.Logger
}

func NewHandler(svc Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{svc: svc, logger: logger}
}

// Handle runs one command and returns the frames to send back, in order.
// Every failure becomes a toast.
func (h *Handler) Handle(ctx context.Context, msg string) []string {
	cmd, err := Decode(msg)
	if err != nil {
		var perr *ProtocolError
		if errors.As(err, &perr) {
			h.logger.Debug("rejected command", "message", msg, "reason", perr.Message)
			return []string{Toast(perr.Message)}
		}
		return []string{Toast("Unknown command")}
	}

	switch cmd.Kind {
	case StartScan:
		if !h.svc.StartScanning(time.Duration(cmd.Interval) * time.Second) {
			return []string{ReplyScanStarted, Toast("Scanning already active, interval unchanged")}
		}
		return []string{ReplyScanStarted, Toast(fmt.Sprintf("Scanning started with interval %d seconds", cmd.Interval))}

	case StopScan:
		h.svc.StopScanning()
		return []string{ReplyScanStopped, "Scanning stopped"}

	case GetLastScan:
		rec, err := h.svc.LastScan(ctx)
		if errors.Is(err, ledger.ErrNotFound) {
			return []string{Toast("No scans available")}
		}
		if err != nil {
			h.logger.Error("failed to get last scan", "error", err)
			return []string{Toast("Scan history unavailable")}
		}
		return []string{PrefixLastScan + rec.String()}

	case Overwrite:
		if !h.svc.Restore(ctx, cmd.ID) {
			return []string{Toast("Overwrite failed")}
		}
		return []string{ReplyOverwriteSuccess}

	case GetMetaAndTree:
		report, rec, err := h.svc.DiffAgainstPredecessor(ctx, cmd.ID)
		if errors.Is(err, ledger.ErrNotFound) {
			return []string{Toast("Scan not found")}
		}
		if err != nil {
			h.logger.Error("failed to diff scan", "id", cmd.ID, "error", err)
			return []string{Toast("Failed to load scan")}
		}
		data, err := report.Marshal()
		if err != nil {
			h.logger.Error("failed to encode report", "id", cmd.ID, "error", err)
			return []string{Toast("Failed to load scan")}
		}
		return []string{fmt.Sprintf("%s%s, %d ms, %s#%s",
			PrefixMetaAndTree, rec.TotalSize, rec.ScanDurationMs, rec.StartTime.Format(MetaTimeFormat), data)}

	case GetList:
		entries, err := h.svc.Entries(ctx)
		if err != nil {
			h.logger.Error("failed to list scans", "error", err)
			return []string{Toast("Scan history unavailable")}
		}
		data, err := json.Marshal(entries)
		if err != nil {
			h.logger.Error("failed to encode scan list", "error", err)
			return []string{Toast("Scan history unavailable")}
		}
		return []string{PrefixStringList + string(data)}
	}

	return []string{Toast("Unknown command")}
}
