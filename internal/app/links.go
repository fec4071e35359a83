package app

import (
	"net/url"
	"sync"

	"github.com/SJKodehode/tutorial-chat-app/pkg/logger"
)

// DeepLinks fans incoming app URLs out to listeners, like the OS url event.
type DeepLinks struct {
	mu     sync.Mutex
	subs   map[int]func(string)
	nextID int
}

func NewDeepLinks() *DeepLinks {
	return &DeepLinks{subs: make(map[int]func(string))}
}

func (d *DeepLinks) Subscribe(fn func(url string)) func() {
	d.mu.Lock()
	id := d.nextID
	d.nextID++
	d.subs[id] = fn
	d.mu.Unlock()
	return func() {
		d.mu.Lock()
		delete(d.subs, id)
		d.mu.Unlock()
	}
}

// Deliver hands url to every listener and reports how many received it.
func (d *DeepLinks) Deliver(url string) int {
	d.mu.Lock()
	fns := make([]func(string), 0, len(d.subs))
	for _, fn := range d.subs {
		fns = append(fns, fn)
	}
	d.mu.Unlock()

	for _, fn := range fns {
		fn(url)
	}
	return len(fns)
}

// Location is the page address on the web target.
type Location interface {
	Href() string
	Path() string
	ReplaceState(path string)
}

// StaticLocation is a Location for a single known address.
type StaticLocation struct {
	mu   sync.Mutex
	href string
}

func NewStaticLocation(href string) *StaticLocation {
	return &StaticLocation{href: href}
}

func (l *StaticLocation) Href() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.href
}

func (l *StaticLocation) Path() string {
	u, err := url.Parse(l.Href())
	if err != nil || u.Path == "" {
		return "/"
	}
	return u.Path
}

// ReplaceState swaps the address for path on the same origin, dropping the
// query and fragment.
func (l *StaticLocation) ReplaceState(path string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	u, err := url.Parse(l.href)
	if err != nil {
		l.href = path
		return
	}
	u.Path = path
	u.RawQuery = ""
	u.Fragment = ""
	l.href = u.String()
	logger.Debug("Address replaced with %s", l.href)
}
