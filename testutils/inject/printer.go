package inject

import (
	"context"

	"github.com/oliverbravery/3D-Print-Sentinel/components/printer"
)

// PrinterStatus is an injected printer status.
type PrinterStatus struct {
	printer.Status
	name          string
	IsInStateFunc func(ctx context.Context, state string) (bool, error)
}

// NewPrinterStatus returns a new injected printer status.
func NewPrinterStatus(name string) *PrinterStatus {
	return &PrinterStatus{name: name}
}

// Name returns the name of the printer.
func (p *PrinterStatus) Name() string {
	return p.name
}

// IsInState calls the injected IsInState or the real version.
func (p *PrinterStatus) IsInState(ctx context.Context, state string) (bool, error) {
	if p.IsInStateFunc == nil {
		return p.Status.IsInState(ctx, state)
	}
	return p.IsInStateFunc(ctx, state)
}
