package cache

import (
	"fmt"

	"github.com/google/uuid"
)

// LastImportKey holds the summary of the most recent orchestrated import.
const LastImportKey = "import:last"

func ImportSummaryKey(importID uuid.UUID) string {
	return fmt.Sprintf("import:%s", importID)
}

func TriggerRateLimitKey(clientID string) string {
	return fmt.Sprintf("ratelimit:trigger:%s", clientID)
}
