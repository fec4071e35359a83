package navigation

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Screen names.
const (
	Login    = "Login"
	Profile  = "Profile"
	MainTabs = "MainTabs"
	Chat     = "Chat"
)

// Tabs inside MainTabs.
const (
	TabHome     = "Home"
	TabSettings = "Settings"
)

type Route struct {
	Name   string
	Params map[string]string
}

func (r Route) Param(key string) string {
	if r.Params == nil {
		return ""
	}
	return r.Params[key]
}

func (r Route) String() string {
	if len(r.Params) == 0 {
		return r.Name
	}
	keys := make([]string, 0, len(r.Params))
	for k := range r.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + r.Params[k]
	}
	return r.Name + "(" + strings.Join(parts, ", ") + ")"
}

// Router holds the screen stack. Observers run after every change, outside
// the lock.
type Router struct {
	mu        sync.Mutex
	stack     []Route
	tab       string
	observers map[int]func()
	nextID    int
}

func NewRouter() *Router {
	return &Router{tab: TabHome, observers: make(map[int]func())}
}

// Reset replaces the whole stack with one route.
func (r *Router) Reset(route Route) {
	r.mutate(func() {
		r.stack = []Route{route}
		if route.Name == MainTabs {
			r.tab = TabHome
		}
	})
}

// Replace swaps the top route, or pushes onto an empty stack.
func (r *Router) Replace(route Route) {
	r.mutate(func() {
		if len(r.stack) == 0 {
			r.stack = []Route{route}
			return
		}
		r.stack[len(r.stack)-1] = route
	})
}

func (r *Router) Navigate(route Route) {
	r.mutate(func() {
		r.stack = append(r.stack, route)
	})
}

// Back pops the top route; the root route is never popped.
func (r *Router) Back() bool {
	popped := false
	r.mutate(func() {
		if len(r.stack) > 1 {
			r.stack = r.stack[:len(r.stack)-1]
			popped = true
		}
	})
	return popped
}

// SelectTab switches the MainTabs tab.
func (r *Router) SelectTab(tab string) error {
	if tab != TabHome && tab != TabSettings {
		return fmt.Errorf("unknown tab %q", tab)
	}
	r.mutate(func() { r.tab = tab })
	return nil
}

func (r *Router) Tab() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tab
}

// Current returns the top route; ok is false on an empty stack.
func (r *Router) Current() (Route, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.stack) == 0 {
		return Route{}, false
	}
	return r.stack[len(r.stack)-1], true
}

// Stack returns a copy of the stack, bottom first.
func (r *Router) Stack() []Route {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Route(nil), r.stack...)
}

// Names returns the route names on the stack, bottom first.
func (r *Router) Names() []string {
	stack := r.Stack()
	names := make([]string, len(stack))
	for i, route := range stack {
		names[i] = route.Name
	}
	return names
}

func (r *Router) Subscribe(fn func()) func() {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.observers[id] = fn
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		delete(r.observers, id)
		r.mu.Unlock()
	}
}

func (r *Router) mutate(fn func()) {
	r.mu.Lock()
	fn()
	observers := make([]func(), 0, len(r.observers))
	for _, o := range r.observers {
		observers = append(observers, o)
	}
	r.mu.Unlock()

	for _, o := range observers {
		o()
	}
}
