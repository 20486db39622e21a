// SPDX-License-Identifier: LGPL-3.0-or-later

// Package progress renders orchctl's CLI-side progress bars; orchctl
// uses it for the wait around a pool provision call, with the bar sized
// to the requested VM count.
package progress

import (
	"fmt"
	"io"
	"time"

	"github.com/schollz/progressbar/v3"
)

// ProgressReporter is the surface orchctl drives a progress display
// through; BarProgress is the only implementation, but subcommands take
// this interface so a no-op or test double can stand in for it.
type ProgressReporter interface {
	Start(total int64, description string)
	Update(current int64)
	Finish()
	SetTotal(total int64)
	Add(count int64)
	Close() error
	Describe(description string)
}

// BarProgress wraps a schollz/progressbar bar with nil-receiver-safe
// methods, so callers can pass a nil *BarProgress in place of a real one
// without guarding every call site.
type BarProgress struct {
	bar *progressbar.ProgressBar
}

// NewBarProgress builds a bar writing to w, themed for orchctl's
// provision progress (VM counts, not bytes).
func NewBarProgress(writer io.Writer, options ...progressbar.Option) *BarProgress {
	defaultOptions := []progressbar.Option{
		progressbar.OptionSetWriter(writer),
		progressbar.OptionSetWidth(50),
		progressbar.OptionThrottle(65 * time.Millisecond),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("vms"),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(writer, "\n")
		}),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetRenderBlankState(true),
	}

	allOptions := append(defaultOptions, options...)

	return &BarProgress{
		bar: progressbar.NewOptions64(0, allOptions...),
	}
}

func (b *BarProgress) Start(total int64, description string) {
	if b == nil || b.bar == nil {
		return
	}
	b.bar.ChangeMax64(total)
	b.bar.Describe(description)
	b.bar.Reset()
}

func (b *BarProgress) Update(current int64) {
	if b == nil || b.bar == nil {
		return
	}
	_ = b.bar.Set64(current)
}

func (b *BarProgress) Add(count int64) {
	if b == nil || b.bar == nil {
		return
	}
	_ = b.bar.Add64(count)
}

func (b *BarProgress) Finish() {
	if b == nil || b.bar == nil {
		return
	}
	_ = b.bar.Finish()
}

func (b *BarProgress) SetTotal(total int64) {
	if b == nil || b.bar == nil {
		return
	}
	b.bar.ChangeMax64(total)
}

func (b *BarProgress) Describe(description string) {
	if b == nil || b.bar == nil {
		return
	}
	b.bar.Describe(description)
}

func (b *BarProgress) Close() error {
	if b == nil || b.bar == nil {
		return nil
	}
	return b.bar.Close()
}
