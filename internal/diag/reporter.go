package diag

// Reporter is the minimal contract for receiving diagnostics from a computation.
// Implementations: BagReporter, DedupReporter.
type Reporter interface {
	Report(d Diagnostic)
}

// ReportBuilder accumulates payload entries before emitting to a Reporter.
type ReportBuilder struct {
	reporter Reporter
	diag     Diagnostic
	emitted  bool
}

// Build starts a diagnostic bound to r.
func Build(r Reporter, category, name string) *ReportBuilder {
	return &ReportBuilder{reporter: r, diag: New(category, name)}
}

// With sets a payload entry.
func (b *ReportBuilder) With(key, value string) *ReportBuilder {
	if b == nil {
		return nil
	}
	b.diag = b.diag.With(key, value)
	return b
}

// Emit sends the diagnostic to the underlying reporter exactly once.
func (b *ReportBuilder) Emit() {
	if b == nil || b.emitted {
		return
	}
	if b.reporter != nil {
		b.reporter.Report(b.diag)
	}
	b.emitted = true
}

// Diagnostic returns the accumulated diagnostic without emitting.
func (b *ReportBuilder) Diagnostic() Diagnostic {
	if b == nil {
		return Diagnostic{}
	}
	return b.diag
}

// BagReporter writes into a *Bag.
type BagReporter struct{ Bag *Bag }

func (r BagReporter) Report(d Diagnostic) {
	if r.Bag == nil {
		return
	}
	r.Bag.Add(d)
}
