package live

import (
	"context"
	"sync"
)

type fakeSession struct {
	closed bool
}

func (s *fakeSession) SendAudio([]byte) error     { return nil }
func (s *fakeSession) SendText(string) error      { return nil }
func (s *fakeSession) EndAudioStream() error      { return nil }
func (s *fakeSession) Receive() (*Message, error) { return nil, ErrSessionClosed }
func (s *fakeSession) Close() error {
	s.closed = true
	return nil
}

// scriptedDialer returns errs[i] for the i-th dial and a session once errs
// runs out.
type scriptedDialer struct {
	mu    sync.Mutex
	errs  []error
	calls int
	opts  []SetupOptions
}

func (d *scriptedDialer) Dial(ctx context.Context, opts SetupOptions) (Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	d.opts = append(d.opts, opts)
	if len(d.errs) > 0 {
		err := d.errs[0]
		d.errs = d.errs[1:]
		return nil, err
	}
	return &fakeSession{}, nil
}
