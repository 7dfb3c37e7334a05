package interfaces

import "fmt"

func formatBatchResult(succeeded, failed int) string {
	return fmt.Sprintf("%d succeeded, %d failed", succeeded, failed)
}
