package inject

import (
	"context"

	"github.com/oliverbravery/3D-Print-Sentinel/components/button"
)

// Button implements button.Button for testing.
type Button struct {
	button.Button
	name      string
	PressFunc func(ctx context.Context) error
}

// NewButton returns a new injected button.
func NewButton(name string) *Button {
	return &Button{name: name}
}

// Name returns the name of the button.
func (b *Button) Name() string {
	return b.name
}

// Press calls PressFunc.
func (b *Button) Press(ctx context.Context) error {
	if b.PressFunc == nil {
		return b.Button.Press(ctx)
	}
	return b.PressFunc(ctx)
}
