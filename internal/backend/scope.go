package backend

import (
	"context"

	"github.com/rs/zerolog/log"
)

// Scope collects the buffers created during one operation and releases them
// together. The zero value is not usable; create one with NewScope.
//
//	scope := backend.NewScope(ctx, b)
//	defer scope.Close()
//	buf, err := scope.Track(b.FromImage(img))
type Scope struct {
	ctx     context.Context
	backend string
	bufs    []Buffer
}

func NewScope(ctx context.Context, b Backend) *Scope {
	return &Scope{ctx: ctx, backend: b.Name()}
}

// Track registers buf for release and passes the pair through, so it can wrap
// a backend call directly.
func (s *Scope) Track(buf Buffer, err error) (Buffer, error) {
	if err != nil {
		return nil, err
	}
	if buf != nil {
		s.bufs = append(s.bufs, buf)
	}
	return buf, nil
}

// TrackAll is Track for multi-buffer results such as Split.
func (s *Scope) TrackAll(bufs []Buffer, err error) ([]Buffer, error) {
	for _, b := range bufs {
		if b != nil {
			s.bufs = append(s.bufs, b)
		}
	}
	if err != nil {
		return nil, err
	}
	return bufs, nil
}

// Len is the number of buffers still owned by the scope.
func (s *Scope) Len() int { return len(s.bufs) }

// Close releases every tracked buffer in reverse order. Release failures are
// logged and never returned: they must not hide the error that ended the
// operation.
func (s *Scope) Close() {
	for i := len(s.bufs) - 1; i >= 0; i-- {
		if err := s.bufs[i].Release(); err != nil {
			log.Ctx(s.ctx).Warn().
				Err(err).
				Str("backend", s.backend).
				Msg("failed to release native buffer")
		}
	}
	s.bufs = nil
}
