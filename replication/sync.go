package replication

import (
	"io"

	"go.uber.org/multierr"

	"github.com/alpacahq/colstore/utils/log"
)

// Sync runs complete exchanges between a producer and a consumer in the same
// process until the replica has every committed source row, then commits the
// replica. It returns the number of bytes shipped.
func Sync(p *Producer, cs *Consumer) (int64, error) {
	cs.Reset()
	wm := cs.Watermark()
	var total int64
	for {
		d, err := p.Configure(wm.Rows, wm.DataSize)
		if err != nil {
			return total, err
		}
		if !d.HasContent() {
			break
		}
		n, err := pipe(d, cs)
		total += n
		if err != nil {
			cs.Reset()
			return total, err
		}
		wm.Rows, wm.DataSize = d.To, d.DataEnd
	}
	if err := cs.Commit(); err != nil {
		return total, err
	}
	if total > 0 {
		log.Debug("synced %d bytes, replica at %d rows", total, wm.Rows)
	}
	return total, nil
}

// pipe streams one delta into the consumer over an in-memory channel.
func pipe(d *Delta, cs *Consumer) (int64, error) {
	pr, pw := io.Pipe()
	done := make(chan error, 1)
	go func() {
		_, err := d.WriteTo(pw)
		pw.CloseWithError(err)
		done <- err
	}()
	n, readErr := cs.ReadFrom(pr)
	pr.CloseWithError(readErr)
	writeErr := <-done
	if readErr != nil {
		return n, multierr.Append(readErr, writeErr)
	}
	return n, writeErr
}
