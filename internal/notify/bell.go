package notify

import (
	"context"
	"fmt"
	"io"

	"github.com/tazhate/familycal/internal/domain"
)

// BellChannel rings the terminal bell.
type BellChannel struct {
	w io.Writer
}

func NewBellChannel(w io.Writer) *BellChannel {
	return &BellChannel{w: w}
}

func (b *BellChannel) Name() string { return "audible" }

func (b *BellChannel) Deliver(_ context.Context, _ domain.Notification) error {
	if _, err := io.WriteString(b.w, "\a"); err != nil {
		return fmt.Errorf("ring bell: %w", err)
	}
	return nil
}
