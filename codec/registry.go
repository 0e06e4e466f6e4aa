package codec

import (
	"errors"
	"sync"

	"github.com/Alia5/portctrl/layout"
	"github.com/Alia5/portctrl/schema"
)

// Registry shares codecs between ports with identical layouts. The codec
// returned for a port may have been built from another port's descriptors.
type Registry struct {
	mu     sync.Mutex
	opts   []Option
	codecs map[layout.Fingerprint]*Codec
}

// NewRegistry returns a registry that builds codecs with opts.
func NewRegistry(opts ...Option) *Registry {
	return &Registry{opts: opts, codecs: make(map[layout.Fingerprint]*Codec)}
}

// Get returns the codec for p's layout, building it on first use.
func (r *Registry) Get(p *schema.Port) (*Codec, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	fp := layout.Plan(p).Fingerprint()

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.codecs[fp]; ok {
		return c, nil
	}
	c, err := New(p, r.opts...)
	if err != nil {
		return nil, err
	}
	r.codecs[fp] = c
	return c, nil
}

// Len is the number of distinct layouts held.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.codecs)
}

// Close closes every held codec.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for fp, c := range r.codecs {
		errs = append(errs, c.Close())
		delete(r.codecs, fp)
	}
	return errors.Join(errs...)
}
