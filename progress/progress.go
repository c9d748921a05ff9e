package progress

import (
	"sync"

	"github.com/pterm/pterm"

	"mailvault/stats"
)

// Reporter renders live ingest progress with pterm. The record total is not
// known up front (archives are streamed), so a spinner with a running count
// stands in for a bar.
type Reporter struct {
	mu      sync.Mutex
	spinner *pterm.SpinnerPrinter
	scanned int
	enabled bool
}

// New creates a progress reporter. Rendering only activates at info level so
// debug logs stay readable.
func New(logLevel string) *Reporter {
	r := &Reporter{enabled: logLevel == "info"}
	if r.enabled {
		spinner, _ := pterm.DefaultSpinner.Start("Ingesting archives...")
		r.spinner = spinner
	}
	return r
}

// Update consumes one pipeline event.
func (r *Reporter) Update(evt stats.Event) {
	if !r.enabled || r.spinner == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	switch evt.Type {
	case stats.EventTypeScanned:
		r.scanned++
		if r.scanned%100 == 0 {
			r.spinner.UpdateText(pterm.Sprintf("Ingesting... %d records scanned", r.scanned))
		}
	case stats.EventTypeError:
		if evt.Err != nil {
			pterm.Error.Printf("Error: %v\n", evt.Err)
		}
	}
}

// Stop finalizes the spinner and prints the run summary.
func (r *Reporter) Stop(summary stats.Summary) {
	if !r.enabled || r.spinner == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.spinner.Stop()

	pterm.Println()
	pterm.DefaultSection.Println("Ingest Summary")
	pterm.Info.Printf("Scanned: %d\n", summary.Scanned)
	pterm.Info.Printf("Messages stored: %d\n", summary.Processed)
	pterm.Info.Printf("Calendar events stored: %d\n", summary.Events)
	pterm.Info.Printf("Skipped (duplicate): %d\n", summary.Duplicates)
	pterm.Info.Printf("Skipped (corrupt): %d\n", summary.Corrupt)
	pterm.Info.Printf("Tagged: %d\n", summary.Tagged)
	pterm.Info.Printf("Untagged: %d\n", summary.Untagged)
	if summary.Errors > 0 {
		pterm.Error.Printf("Errors: %d\n", summary.Errors)
		if summary.LastError != nil {
			pterm.Error.Printf("Last error: %v\n", summary.LastError)
		}
	}
}
