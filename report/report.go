// Package report defines the output boundary for a finished attack's
// metrics: rendering a report to a concrete format (JSON, TSV, HTML) is
// named by spec as an external collaborator, not this engine's job, so
// this package only fixes the interface a renderer plugs into, grounded
// on the shapes the teacher's own rapi/tsv.go (tab-separated run index)
// and results.go (run ID + histogram snapshot) report in.
package report // import "github.com/fortio-goat/goatling/report"

import "io"

// Snapshot is the minimal read-only view a Renderer needs; attack.Attack
// satisfies it via MetricsReport/ConfigReport, identified by runID.
type Snapshot interface {
	MetricsReport() string
	ConfigReport() string
}

// Renderer writes a Snapshot to w in some concrete format. No
// implementation ships here: --report-file dispatch to a specific
// Renderer (JSON, TSV, ...) is left to the binary embedding this engine.
type Renderer interface {
	Render(w io.Writer, snap Snapshot) error
}
