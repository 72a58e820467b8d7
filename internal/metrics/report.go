package metrics

import (
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
)

// Report writes a per-class classification report followed by the accuracy
// and macro-average rows. classNames is indexed by class id; missing names
// fall back to the numeric id.
func Report(w io.Writer, r Result, classNames []string) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"class", "precision", "recall", "f1-score", "support"})
	table.SetAlignment(tablewriter.ALIGN_RIGHT)
	table.SetAutoFormatHeaders(false)

	total := 0
	for c, cs := range r.PerClass {
		name := strconv.Itoa(c)
		if c < len(classNames) {
			name = classNames[c]
		}
		table.Append([]string{name, f4(cs.Precision), f4(cs.Recall), f4(cs.F1), strconv.Itoa(cs.Support)})
		total += cs.Support
	}
	table.Append([]string{"accuracy", "", "", f4(r.Accuracy), strconv.Itoa(total)})
	table.Append([]string{"macro avg", f4(r.PrecisionMacro), f4(r.RecallMacro), f4(r.F1Macro), strconv.Itoa(total)})
	table.Render()
}

func f4(v float64) string {
	return fmt.Sprintf("%.4f", v)
}
