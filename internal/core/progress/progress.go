// Package progress renders terminal progress for long cache operations.
package progress

import (
	"io"
	"os"
	"time"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

var spinner = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// Fill is a single grow-as-you-go bar for cache fill runs. The listing is
// walked page by page, so the total is unknown upfront and extends as
// pages arrive.
type Fill struct {
	container *mpb.Progress
	bar       *mpb.Bar
	total     int64
}

// FillOption configures the underlying container.
type FillOption func() mpb.ContainerOption

func WithOutput(w io.Writer) FillOption {
	return func() mpb.ContainerOption {
		return mpb.WithOutput(w)
	}
}

func WithRefreshRate(refreshRate time.Duration) FillOption {
	return func() mpb.ContainerOption {
		return mpb.WithRefreshRate(refreshRate)
	}
}

// NewFill creates a fill bar with an open-ended total.
func NewFill(description string, opts ...FillOption) *Fill {
	containerOpts := []mpb.ContainerOption{
		mpb.WithOutput(os.Stdout),
		mpb.WithRefreshRate(150 * time.Millisecond),
	}
	for _, opt := range opts {
		containerOpts = append(containerOpts, opt())
	}
	container := mpb.New(containerOpts...)

	bar := container.AddBar(0,
		mpb.PrependDecorators(
			decor.Spinner(spinner, decor.WCSyncSpaceR),
			decor.Name(description, decor.WCSyncSpaceR),
			decor.CountersNoUnit("%d/%d", decor.WCSyncSpace),
			decor.Percentage(decor.WCSyncSpace),
		),
		mpb.AppendDecorators(
			decor.AverageSpeed(0, "%.1f/s", decor.WCSyncSpace),
		),
	)

	return &Fill{container: container, bar: bar}
}

// Extend grows the known total by n images, as a new listing page arrives.
func (f *Fill) Extend(n int) {
	f.total += int64(n)
	f.bar.SetTotal(f.total, false)
}

// Bump records one finished image.
func (f *Fill) Bump() {
	f.bar.Increment()
}

// Done pins the total at the work actually completed and waits for the
// final render.
func (f *Fill) Done() {
	f.bar.SetTotal(-1, true)
	f.container.Wait()
}
