package audit

import (
	"bytes"
	"encoding/csv"
	"time"
)

// WriteCSV renders entries as CSV, one line per entry.
func WriteCSV(rows []Entry) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	if err := writer.Write([]string{"created_at", "action", "model", "model_id", "old_data", "new_data", "event_id"}); err != nil {
		return nil, err
	}
	for _, row := range rows {
		if err := writer.Write([]string{
			row.CreatedAt.UTC().Format(time.RFC3339),
			row.Action,
			row.Model,
			row.ModelID,
			string(row.OldData),
			string(row.NewData),
			row.EventID.String(),
		}); err != nil {
			return nil, err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
