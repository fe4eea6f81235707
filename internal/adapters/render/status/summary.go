package status

import (
	"fmt"

	"github.com/bnema/gemini-pool/internal/domain"
)

// Summary counts the accounts of a pool by state. An account that is not
// available is quarantined.
type Summary struct {
	Total       int
	Available   int
	Warm        int
	Quarantined int
}

func Summarize(statuses []domain.AccountStatus) Summary {
	summary := Summary{Total: len(statuses)}
	for _, status := range statuses {
		if status.Warm {
			summary.Warm++
		}
		if status.Available {
			summary.Available++
		} else {
			summary.Quarantined++
		}
	}
	return summary
}

func (s Summary) String() string {
	noun := "accounts"
	if s.Total == 1 {
		noun = "account"
	}
	return fmt.Sprintf("%d %s: %d warm, %d quarantined", s.Total, noun, s.Warm, s.Quarantined)
}
