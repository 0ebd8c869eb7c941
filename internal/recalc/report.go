package recalc

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// NothingToReport is the readout of a run that changed nothing.
const NothingToReport = "Nothing to report, sheriff!"

// ItemChange describes a recalculated item. OldPoints is the highest value
// previously awarded for it.
type ItemChange struct {
	ItemID    int64  `json:"item_id"`
	ItemName  string `json:"item_name"`
	OldPoints int64  `json:"old_points"`
	NewPoints int64  `json:"new_points"`
	Affected  int    `json:"affected"`
}

// PlayerChange is the aggregate correction pushed to one player's ranking.
type PlayerChange struct {
	PlayerID    string `json:"player_id"`
	DisplayName string `json:"display_name"`
	Delta       int64  `json:"delta"`
	Failed      bool   `json:"failed,omitempty"`
}

// Report is the outcome of a recalculation run.
type Report struct {
	RunID      uuid.UUID      `json:"run_id"`
	Candidates int            `json:"candidates"`
	Corrected  int            `json:"corrected"`
	Items      []ItemChange   `json:"items"`
	Players    []PlayerChange `json:"players"`
}

// Empty reports whether no ledger entry was corrected.
func (r *Report) Empty() bool {
	return r == nil || r.Corrected == 0
}

// String renders the markdown readout posted to the action log.
func (r *Report) String() string {
	if r.Empty() {
		return NothingToReport
	}

	var b strings.Builder
	fmt.Fprintf(&b, "\n**Recalculation Results** (only highest points previously awarded listed):\n%d total records affected!", r.Corrected)
	for _, it := range r.Items {
		fmt.Fprintf(&b, "\n**%s** (%d): from %d to %d points (**%s**), %d clogs affected",
			it.ItemName, it.ItemID, it.OldPoints, it.NewPoints, signed(it.NewPoints-it.OldPoints), it.Affected)
	}
	b.WriteString("\n**Affected users:**")
	for _, p := range r.Players {
		fmt.Fprintf(&b, "\n**%s** (%s): **%s** points", p.DisplayName, p.PlayerID, signed(p.Delta))
		if p.Failed {
			b.WriteString(" (ranking update failed)")
		}
	}
	return b.String()
}

func signed(n int64) string {
	if n > 0 {
		return fmt.Sprintf("+%d", n)
	}
	return fmt.Sprintf("%d", n)
}
