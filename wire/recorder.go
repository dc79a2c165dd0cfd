package wire

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"

	"github.com/ibapi-go/tws/internal/worker"
)

// direction tags a recorded frame as inbound or outbound for the benefit
// of whoever reads the recording back.
type direction byte

const (
	directionRead direction = 'R'
	directionWrite direction = 'W'
)

type recordedFrame struct {
	dir direction
	raw []byte
}

// Recorder tees every frame successfully read or written to a
// timestamped file under Dir. It is optional (nil Recorder is a legal,
// no-op tee point) and never lets a disk failure affect the connection:
// each failed write is logged and the recorder keeps draining.
type Recorder struct {
	worker.Worker

	log *log.Logger

	dir     string
	frameCh chan recordedFrame

	file *os.File
}

// NewRecorder opens (creating if necessary) a timestamped recording
// file under dir and starts the background writer. Returns an error
// only if dir cannot be created/opened; callers are expected to treat
// that as non-fatal and proceed without recording.
func NewRecorder(dir string, logger *log.Logger) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	name := filepath.Join(dir, fmt.Sprintf("ibapi-%s.rec", time.Now().UTC().Format("20060102T150405.000000000Z")))
	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, err
	}
	r := &Recorder{
		log:     logger.WithPrefix("recorder"),
		dir:     dir,
		frameCh: make(chan recordedFrame, 64),
		file:    f,
	}
	r.Go(r.worker)
	return r, nil
}

func (r *Recorder) worker() {
	defer r.file.Close()
	for {
		select {
		case <-r.HaltCh():
			r.drain()
			return
		case rf := <-r.frameCh:
			r.write(rf)
		}
	}
}

func (r *Recorder) drain() {
	for {
		select {
		case rf := <-r.frameCh:
			r.write(rf)
		default:
			return
		}
	}
}

func (r *Recorder) write(rf recordedFrame) {
	prefix := []byte{byte(rf.dir), ' '}
	if _, err := r.file.Write(prefix); err == nil {
		_, err = r.file.Write(rf.raw)
		if err == nil {
			_, err = r.file.Write([]byte{'\n'})
		}
		if err != nil {
			r.log.Warnf("failed to record frame: %v", err)
		}
	} else {
		r.log.Warnf("failed to record frame: %v", err)
	}
}

func (r *Recorder) enqueue(dir direction, raw []byte) {
	if r == nil {
		return
	}
	cp := make([]byte, len(raw))
	copy(cp, raw)
	select {
	case r.frameCh <- recordedFrame{dir: dir, raw: cp}:
	default:
		r.log.Warnf("recorder backlog full, dropping frame")
	}
}

// RecordRead tees a frame that was successfully read off the socket.
func (r *Recorder) RecordRead(raw []byte) { r.enqueue(directionRead, raw) }

// RecordWrite tees a frame that was successfully written to the socket.
func (r *Recorder) RecordWrite(raw []byte) { r.enqueue(directionWrite, raw) }

// Close stops the background writer and closes the underlying file.
func (r *Recorder) Close() {
	if r == nil {
		return
	}
	r.Halt()
}
