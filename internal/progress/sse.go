package progress

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/recoverydesk/case-service/internal/types"
)

// WriteEvent writes snap as one server-sent event: "data: {json}\n\n"
func WriteEvent(w io.Writer, snap types.Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", payload)
	return err
}
