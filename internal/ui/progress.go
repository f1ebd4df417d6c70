package ui

import (
	"io"

	"github.com/cheggaaa/pb/v3"

	"cnsniper/internal/worker"
)

type progress struct {
	bar *pb.ProgressBar
}

func (p *progress) Increment() { p.bar.Increment() }
func (p *progress) Finish()    { p.bar.Finish() }

// NewProgress returns a factory of cache installation progress bars
// writing to out.
func NewProgress(out io.Writer) func(total int) worker.Progress {
	return func(total int) worker.Progress {
		bar := pb.New(total)
		bar.SetWriter(out)
		bar.Set("prefix", "caching assets ")
		return &progress{bar: bar.Start()}
	}
}
