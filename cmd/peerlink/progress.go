package main

import (
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/sheerbytes/peerlink/internal/session"
)

func newProgressBar(w io.Writer) session.ProgressFunc {
	return func(name string, total int64) (func(int), func()) {
		if total <= 0 {
			return nil, nil
		}
		bar := progressbar.NewOptions64(
			total,
			progressbar.OptionSetDescription("Sending "+filepath.Base(name)),
			progressbar.OptionSetWriter(w),
			progressbar.OptionShowBytes(true),
			progressbar.OptionSetWidth(10),
			progressbar.OptionThrottle(65*time.Millisecond),
			progressbar.OptionShowCount(),
			progressbar.OptionOnCompletion(func() {
				fmt.Fprint(w, "\n")
			}),
			progressbar.OptionSpinnerType(14),
			progressbar.OptionFullWidth(),
		)
		var sent int64
		onChunk := func(n int) {
			sent += int64(n)
			_ = bar.Add(n)
		}
		// A full bar already ran its completion hook.
		done := func() {
			if sent < total {
				fmt.Fprint(w, "\n")
			}
		}
		return onChunk, done
	}
}
