package storage

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/raykavin/trailflow/core"
)

// revenueHeader is written once when the log file is created.
var revenueHeader = []string{
	"UTCTime", "createdTime", "orderid", "linkedid", "side", "symbol",
	"baseCoin", "quoteCoin", "orderType", "orderStatus", "avgPrice",
	"qty", "triggerStart", "triggerEnd", "cumExecFeeCcy", "cumExecFee",
	"cumExecQty", "cumExecValue", "revenue",
}

// RevenueLog implements core.RevenueRecorder as an append-only CSV
// file, one row per closed trade.
type RevenueLog struct {
	mu   sync.Mutex
	file *os.File
	csv  *csv.Writer
}

// NewRevenueLog opens the log for appending, writing the header when
// the file is new.
func NewRevenueLog(path string) (*RevenueLog, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open revenue log: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat revenue log: %w", err)
	}

	log := &RevenueLog{file: file, csv: csv.NewWriter(file)}
	if info.Size() == 0 {
		if err := log.csv.Write(revenueHeader); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to write revenue header: %w", err)
		}
		log.csv.Flush()
	}
	return log, nil
}

// Record appends one closed trade and flushes it to disk.
func (r *RevenueLog) Record(_ context.Context, rec core.RevenueRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	row := []string{
		rec.Time.UTC().Format(time.RFC3339),
		strconv.FormatInt(rec.CreatedAt.UnixMilli(), 10),
		strconv.FormatInt(rec.OrderID, 10),
		strconv.FormatInt(rec.LinkedID, 10),
		string(rec.Side),
		rec.Symbol,
		rec.BaseCoin,
		rec.QuoteCoin,
		rec.OrderType,
		string(rec.OrderStatus),
		formatFloat(rec.AvgPrice),
		formatFloat(rec.Qty),
		formatFloat(rec.TriggerStart),
		formatFloat(rec.TriggerEnd),
		rec.FeeCcy,
		formatFloat(rec.Fee),
		formatFloat(rec.CumExecQty),
		formatFloat(rec.CumExecValue),
		formatFloat(rec.Revenue),
	}

	if err := r.csv.Write(row); err != nil {
		return fmt.Errorf("failed to append revenue record: %w", err)
	}
	r.csv.Flush()
	return r.csv.Error()
}

// Close flushes and closes the log file.
func (r *RevenueLog) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.csv.Flush()
	return r.file.Close()
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}
